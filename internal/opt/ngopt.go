package opt

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cwbudde/blackbox/internal/param"
)

func init() {
	Register(Registration{
		Name: "NGOpt",
		Factory: func(env *Env) (Method, error) {
			return &ngopt{env: env}, nil
		},
	})
}

// DecisionRecord explains which strategy the dispatcher selected and which
// problem features drove the choice. The record is stable for a given
// parametrization, budget and worker count.
type DecisionRecord struct {
	Chosen          string `json:"chosen"`
	Rule            string `json:"rule"`
	Dimension       int    `json:"dimension"`
	Budget          int    `json:"budget"`
	NumWorkers      int    `json:"num_workers"`
	FullyContinuous bool   `json:"fully_continuous"`
	HasDiscrete     bool   `json:"has_discrete"`
	Noisy           bool   `json:"noisy"`
}

// Explain reports which strategy the dispatcher would select for the given
// problem, without building or running it.
func Explain(p *param.Parametrization, budget, numWorkers int) DecisionRecord {
	m := &ngopt{env: &Env{Param: p, Budget: budget, NumWorkers: numWorkers}}
	return *m.decide()
}

// ngopt selects a concrete strategy from the problem descriptor, budget and
// parallelism. The decision is taken once, on first use, and cached; all
// protocol calls then delegate to the chosen strategy.
type ngopt struct {
	env      *Env
	decision *DecisionRecord
	sub      *Optimizer
}

// decide implements the selection rules, most specific first.
func (m *ngopt) decide() *DecisionRecord {
	d := m.env.Param.Descriptor()
	rec := &DecisionRecord{
		Dimension:       d.Dimension,
		Budget:          m.env.Budget,
		NumWorkers:      m.env.NumWorkers,
		FullyContinuous: d.FullyContinuous,
		HasDiscrete:     d.HasDiscrete,
		Noisy:           d.Noisy,
	}

	switch {
	case d.Noisy && !d.HasDiscrete:
		// Noise-robust averaging beats archive trust on noisy objectives.
		rec.Chosen, rec.Rule = "TBPSA", "noisy"
	case m.env.NumWorkers >= m.env.Budget && m.env.Budget > 600:
		// Fully parallel with a big budget: one planned sample cloud.
		rec.Chosen, rec.Rule = "MetaRecentering", "fully-parallel"
	case d.HasDiscrete && d.HasContinuous:
		rec.Chosen, rec.Rule = "DE", "mixed"
	case d.HasDiscrete:
		if d.Cardinality > 0 && d.Cardinality <= 8 {
			rec.Chosen, rec.Rule = "DiscreteOnePlusOne", "discrete-small"
		} else {
			rec.Chosen, rec.Rule = "DoubleFastGADiscreteOnePlusOne", "discrete-large"
		}
	case m.env.Budget < 30*d.Dimension:
		// Short continuous runs: local search, sequential when possible.
		if m.env.NumWorkers == 1 {
			rec.Chosen, rec.Rule = "CompassSearch", "low-budget-sequential"
		} else {
			rec.Chosen, rec.Rule = "OnePlusOne", "low-budget-parallel"
		}
	case m.env.NumWorkers > m.env.Budget/5:
		rec.Chosen, rec.Rule = "PSO", "worker-heavy"
	default:
		rec.Chosen, rec.Rule = "CMA", "default-continuous"
	}
	return rec
}

// resolve takes the cached decision, building the delegate on first use.
func (m *ngopt) resolve() error {
	if m.sub != nil {
		return nil
	}
	if m.decision == nil {
		m.decision = m.decide()
		slog.Debug("Strategy selected",
			"chosen", m.decision.Chosen,
			"rule", m.decision.Rule,
			"dimension", m.decision.Dimension,
			"budget", m.decision.Budget,
			"num_workers", m.decision.NumWorkers)
	}
	sub, err := New(m.decision.Chosen, m.env.Param, m.env.Budget, m.env.NumWorkers)
	if err != nil {
		return fmt.Errorf("failed to build selected strategy %s: %w", m.decision.Chosen, err)
	}
	m.sub = sub
	return nil
}

// Decision returns the selection record, resolving it if needed.
func (m *ngopt) Decision() (DecisionRecord, error) {
	if err := m.resolve(); err != nil {
		return DecisionRecord{}, err
	}
	return *m.decision, nil
}

func (m *ngopt) Ask() (*Candidate, error) {
	if err := m.resolve(); err != nil {
		return nil, err
	}
	return m.sub.Ask()
}

func (m *ngopt) Tell(cand *Candidate, loss float64) {
	if err := m.resolve(); err != nil {
		slog.Debug("Dropping tell, strategy resolution failed", "error", err)
		return
	}
	if err := m.sub.Tell(cand, loss); err != nil {
		slog.Debug("Selected strategy rejected tell", "strategy", m.sub.Name(), "error", err)
	}
}

func (m *ngopt) TellNotAsked(cand *Candidate, loss float64) error {
	if err := m.resolve(); err != nil {
		return err
	}
	return m.sub.Tell(cand, loss)
}

func (m *ngopt) Close() error {
	if m.sub == nil {
		return nil
	}
	return m.sub.Close()
}

func (m *ngopt) RecommendData() ([]float64, bool) {
	if m.sub == nil {
		return nil, false
	}
	return m.sub.Recommend().Data, true
}

func (m *ngopt) Info(out map[string]any) {
	if m.decision == nil {
		out["sub-optim"] = "unresolved"
		return
	}
	out["sub-optim"] = m.decision.Chosen
	out["decision"] = *m.decision
}

type ngoptState struct {
	Decision *DecisionRecord `json:"decision,omitempty"`
	Sub      json.RawMessage `json:"sub,omitempty"`
}

func (m *ngopt) Snapshot() (json.RawMessage, error) {
	st := ngoptState{Decision: m.decision}
	if m.sub != nil {
		subState, err := m.sub.state()
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(subState)
		if err != nil {
			return nil, err
		}
		st.Sub = raw
	}
	return json.Marshal(st)
}

func (m *ngopt) Restore(data json.RawMessage) error {
	var st ngoptState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to restore dispatcher state: %w", err)
	}
	m.decision = st.Decision
	m.sub = nil
	if st.Sub == nil {
		return nil
	}
	if err := m.resolve(); err != nil {
		return err
	}
	var subState optimizerState
	if err := json.Unmarshal(st.Sub, &subState); err != nil {
		return fmt.Errorf("failed to restore selected strategy: %w", err)
	}
	return m.sub.restoreState(&subState)
}
