package opt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/cwbudde/blackbox/internal/param"
)

func init() {
	Register(Registration{
		Name: "Chaining",
		Factory: func(env *Env) (Method, error) {
			// Exploration first, local refinement last: a low-discrepancy
			// warmup, a population phase, then distribution adaptation.
			b1 := env.Budget / 10
			if b1 < 1 {
				b1 = 1
			}
			b2 := env.Budget / 3
			if b2 < 1 {
				b2 = 1
			}
			return newChaining(env, []string{"LHSSearch", "DE", "CMA"}, []int{b1, b2})
		},
	})
}

// NewChaining composes an optimizer running the named strategies over
// consecutive slices of the budget; budgets holds the evaluation counts of
// all stages but the last, which receives the remainder. The canned
// "Chaining" registration covers the common exploration-then-refinement
// pipeline; this composer allows arbitrary stages.
func NewChaining(p *param.Parametrization, budget, numWorkers int, names []string, budgets []int) (*Optimizer, error) {
	return build(Registration{
		Name: "Chaining",
		Factory: func(env *Env) (Method, error) {
			return newChaining(env, names, budgets)
		},
	}, p, budget, numWorkers)
}

// chaining runs a pipeline of strategies over consecutive slices of the
// budget. Ask routing follows cumulative stage budgets against the number
// of asks already issued; the final stage absorbs any overrun. Every result
// is shared downstream: a stage receives the tells of earlier stages as
// external points, so later strategies start from the full history.
type chaining struct {
	env        *Env
	subs       []*Optimizer
	cumulative []int // ask/tell threshold per stage; the last is unbounded
	numAsk     int
}

// newChaining builds the pipeline; budgets holds the evaluation counts of
// all stages but the last, which receives the remainder.
func newChaining(env *Env, names []string, budgets []int) (*chaining, error) {
	if len(budgets) != len(names)-1 {
		return nil, &ConfigurationError{
			Field:  "budgets",
			Reason: fmt.Sprintf("need %d stage budgets for %d strategies", len(names)-1, len(names)),
		}
	}

	cumulative := make([]int, len(names))
	total := 0
	for i, b := range budgets {
		if b < 1 {
			return nil, &ConfigurationError{Field: "budgets", Reason: "stage budgets must be positive"}
		}
		total += b
		cumulative[i] = total
	}
	cumulative[len(names)-1] = math.MaxInt

	subs := make([]*Optimizer, len(names))
	for i, name := range names {
		var budget int
		if i < len(budgets) {
			budget = budgets[i]
		} else {
			budget = env.Budget - total
			if budget < 1 {
				budget = 1
			}
		}
		sub, err := New(name, env.Param, budget, env.NumWorkers)
		if err != nil {
			return nil, fmt.Errorf("failed to build chain stage %s: %w", name, err)
		}
		subs[i] = sub
	}
	return &chaining{env: env, subs: subs, cumulative: cumulative}, nil
}

// stage returns the pipeline index owning the next ask.
func (m *chaining) stage() int {
	for i, c := range m.cumulative {
		if m.numAsk < c {
			return i
		}
	}
	return len(m.subs) - 1
}

func (m *chaining) Ask() (*Candidate, error) {
	s := m.stage()
	m.numAsk++
	return m.subs[s].Ask()
}

// Tell feeds the result to every stage still inside its tell threshold. The
// issuing stage folds it as its own ask; later stages fold it as an
// external point, which is how results propagate down the pipeline.
func (m *chaining) Tell(cand *Candidate, loss float64) {
	for i, sub := range m.subs {
		if sub.NumTell() >= m.cumulative[i] {
			continue
		}
		if err := sub.Tell(cand, loss); err != nil {
			slog.Debug("Chain stage rejected tell", "stage", sub.Name(), "error", err)
		}
	}
}

func (m *chaining) TellNotAsked(cand *Candidate, loss float64) error {
	m.Tell(cand, loss)
	return nil
}

func (m *chaining) Close() error {
	var firstErr error
	for _, sub := range m.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *chaining) Info(out map[string]any) {
	names := make([]string, len(m.subs))
	for i, sub := range m.subs {
		names[i] = sub.Name()
	}
	out["sub-optim"] = strings.Join(names, ",")
}

type chainingState struct {
	NumAsk int               `json:"num_ask"`
	Subs   []json.RawMessage `json:"subs"`
}

func (m *chaining) Snapshot() (json.RawMessage, error) {
	subs := make([]json.RawMessage, len(m.subs))
	for i, sub := range m.subs {
		st, err := sub.state()
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(st)
		if err != nil {
			return nil, err
		}
		subs[i] = raw
	}
	return json.Marshal(chainingState{NumAsk: m.numAsk, Subs: subs})
}

func (m *chaining) Restore(data json.RawMessage) error {
	var st chainingState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to restore chain state: %w", err)
	}
	if len(st.Subs) != len(m.subs) {
		return &ConfigurationError{Field: "state", Reason: "chain stage count mismatch"}
	}
	m.numAsk = st.NumAsk
	for i, raw := range st.Subs {
		var sub optimizerState
		if err := json.Unmarshal(raw, &sub); err != nil {
			return fmt.Errorf("failed to restore chain stage %d: %w", i, err)
		}
		if err := m.subs[i].restoreState(&sub); err != nil {
			return err
		}
	}
	return nil
}
