package opt

import (
	"testing"

	"github.com/cwbudde/blackbox/internal/param"
)

func TestSelectionRules(t *testing.T) {
	tests := []struct {
		name    string
		p       func() *param.Parametrization
		budget  int
		workers int
		want    string
		rule    string
	}{
		{
			name:    "low budget sequential continuous",
			p:       func() *param.Parametrization { return param.FromDimension(1) },
			budget:  10,
			workers: 1,
			want:    "CompassSearch",
			rule:    "low-budget-sequential",
		},
		{
			name:    "low budget parallel continuous",
			p:       func() *param.Parametrization { return param.FromDimension(2) },
			budget:  40,
			workers: 4,
			want:    "OnePlusOne",
			rule:    "low-budget-parallel",
		},
		{
			name:    "large budget continuous",
			p:       func() *param.Parametrization { return param.FromDimension(2) },
			budget:  500,
			workers: 1,
			want:    "CMA",
			rule:    "default-continuous",
		},
		{
			name:    "worker heavy continuous",
			p:       func() *param.Parametrization { return param.FromDimension(2) },
			budget:  500,
			workers: 200,
			want:    "PSO",
			rule:    "worker-heavy",
		},
		{
			name: "noisy continuous",
			p: func() *param.Parametrization {
				p := param.FromDimension(3)
				p.SetNoisy(true)
				return p
			},
			budget:  200,
			workers: 1,
			want:    "TBPSA",
			rule:    "noisy",
		},
		{
			name: "fully parallel large budget",
			p:    func() *param.Parametrization { return param.FromDimension(4) },
			// Budget over 600 with at least as many workers: one-shot cloud.
			budget:  700,
			workers: 700,
			want:    "MetaRecentering",
			rule:    "fully-parallel",
		},
		{
			name: "small categorical",
			p: func() *param.Parametrization {
				return param.New(param.NewChoice([]any{"a", "b", "c"}))
			},
			budget:  100,
			workers: 1,
			want:    "DiscreteOnePlusOne",
			rule:    "discrete-small",
		},
		{
			name: "large categorical",
			p: func() *param.Parametrization {
				options := make([]any, 20)
				for i := range options {
					options[i] = i
				}
				return param.New(param.NewChoice(options))
			},
			budget:  100,
			workers: 1,
			want:    "DoubleFastGADiscreteOnePlusOne",
			rule:    "discrete-large",
		},
		{
			name: "mixed space",
			p: func() *param.Parametrization {
				return param.New(param.NewInstrumentation(
					param.NewArray(2),
					param.NewChoice([]any{"x", "y"}),
				))
			},
			budget:  100,
			workers: 1,
			want:    "DE",
			rule:    "mixed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o, err := New("NGOpt", tc.p(), tc.budget, tc.workers)
			if err != nil {
				t.Fatalf("Failed to build dispatcher: %v", err)
			}
			ng := o.method.(*ngopt)
			dec, err := ng.Decision()
			if err != nil {
				t.Fatalf("Decision failed: %v", err)
			}
			if dec.Chosen != tc.want {
				t.Errorf("Expected %s, got %s (rule %s)", tc.want, dec.Chosen, dec.Rule)
			}
			if dec.Rule != tc.rule {
				t.Errorf("Expected rule %s, got %s", tc.rule, dec.Rule)
			}
		})
	}
}

func TestSelectionIsDeterministic(t *testing.T) {
	var first string
	for i := 0; i < 10; i++ {
		o := newTestOptimizer(t, "NGOpt", 1, 10, 1)
		ng := o.method.(*ngopt)
		dec, err := ng.Decision()
		if err != nil {
			t.Fatalf("Decision failed: %v", err)
		}
		if i == 0 {
			first = dec.Chosen
			continue
		}
		if dec.Chosen != first {
			t.Fatalf("Selection flapped between %s and %s", first, dec.Chosen)
		}
	}
	if first != "CompassSearch" {
		t.Errorf("dim=1 budget=10 workers=1 should select CompassSearch, got %s", first)
	}
}

func TestExplainMatchesDecision(t *testing.T) {
	got := Explain(param.FromDimension(1), 10, 1)
	if got.Chosen != "CompassSearch" || got.Rule != "low-budget-sequential" {
		t.Errorf("Explain(dim=1, budget=10, workers=1) = %s/%s, want CompassSearch/low-budget-sequential", got.Chosen, got.Rule)
	}

	noisy := param.FromDimension(3)
	noisy.SetNoisy(true)
	if got := Explain(noisy, 1000, 1); got.Chosen != "TBPSA" {
		t.Errorf("Noisy continuous problem should explain TBPSA, got %s", got.Chosen)
	}
}

func TestSelectionResolvesOnce(t *testing.T) {
	o := newTestOptimizer(t, "NGOpt", 2, 200, 1)
	ng := o.method.(*ngopt)

	cand, err := o.Ask()
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	sub := ng.sub
	if sub == nil {
		t.Fatal("First ask should resolve the delegate")
	}
	if err := o.Tell(cand, sphere(cand.Data)); err != nil {
		t.Fatalf("Tell failed: %v", err)
	}
	if ng.sub != sub {
		t.Error("Delegate should be resolved exactly once")
	}

	info := o.Info()
	if info["sub-optim"] != ng.decision.Chosen {
		t.Errorf("Info sub-optim should name the delegate, got %v", info["sub-optim"])
	}
}

func TestDispatcherDelegatesProtocol(t *testing.T) {
	o := newTestOptimizer(t, "NGOpt", 2, 200, 1)
	ng := o.method.(*ngopt)

	for i := 0; i < 30; i++ {
		cand, err := o.Ask()
		if err != nil {
			t.Fatalf("Ask failed: %v", err)
		}
		if err := o.Tell(cand, sphere(cand.Data)); err != nil {
			t.Fatalf("Tell failed: %v", err)
		}
	}
	if ng.sub.NumAsk() != 30 || ng.sub.NumTell() != 30 {
		t.Errorf("Delegate should see every ask and tell, got %d/%d",
			ng.sub.NumAsk(), ng.sub.NumTell())
	}
}
