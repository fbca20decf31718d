package opt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

func init() {
	Register(Registration{
		Name: "Portfolio",
		Factory: func(env *Env) (Method, error) {
			return newPortfolio(env, []string{"CMA", "TwoPointsDE", "LHSSearch"})
		},
	})
}

// portfolio runs several strategies side by side on even slices of the
// budget, interleaving their asks round-robin. Sub-budgets always sum to
// the total budget, with the remainder of the even split going to the
// earliest members. The shared archive of the owning optimizer picks the
// overall winner, so no explicit selection step is needed.
type portfolio struct {
	env      *Env
	subs     []*Optimizer
	pending  map[string]int // candidate uid -> issuing sub
	rotation int
}

func newPortfolio(env *Env, names []string) (*portfolio, error) {
	if len(names) == 0 {
		return nil, &ConfigurationError{Field: "strategies", Reason: "portfolio cannot be empty"}
	}

	share := env.Budget / len(names)
	remainder := env.Budget % len(names)
	subs := make([]*Optimizer, len(names))
	for i, name := range names {
		budget := share
		if i < remainder {
			budget++
		}
		if budget < 1 {
			budget = 1
		}
		sub, err := New(name, env.Param, budget, env.NumWorkers)
		if err != nil {
			return nil, fmt.Errorf("failed to build portfolio member %s: %w", name, err)
		}
		subs[i] = sub
	}
	return &portfolio{env: env, subs: subs, pending: map[string]int{}}, nil
}

// next picks the round-robin member, skipping members that already spent
// their slice while any still have budget left.
func (m *portfolio) next() int {
	for range m.subs {
		idx := m.rotation % len(m.subs)
		m.rotation++
		if m.subs[idx].NumAsk() < m.subs[idx].Budget() {
			return idx
		}
	}
	idx := m.rotation % len(m.subs)
	m.rotation++
	return idx
}

func (m *portfolio) Ask() (*Candidate, error) {
	idx := m.next()
	cand, err := m.subs[idx].Ask()
	if err != nil {
		return nil, err
	}
	m.pending[cand.UID] = idx
	return cand, nil
}

func (m *portfolio) Tell(cand *Candidate, loss float64) {
	idx, ok := m.pending[cand.UID]
	if !ok {
		// Unknown uid, e.g. after a restore; share it with everyone.
		m.broadcast(cand, loss)
		return
	}
	delete(m.pending, cand.UID)
	if err := m.subs[idx].Tell(cand, loss); err != nil {
		slog.Debug("Portfolio member rejected tell", "member", m.subs[idx].Name(), "error", err)
	}
}

func (m *portfolio) broadcast(cand *Candidate, loss float64) {
	for _, sub := range m.subs {
		if err := sub.Tell(cand, loss); err != nil {
			slog.Debug("Portfolio member rejected external tell", "member", sub.Name(), "error", err)
		}
	}
}

func (m *portfolio) TellNotAsked(cand *Candidate, loss float64) error {
	m.broadcast(cand, loss)
	return nil
}

func (m *portfolio) Close() error {
	var firstErr error
	for _, sub := range m.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *portfolio) Info(out map[string]any) {
	names := make([]string, len(m.subs))
	for i, sub := range m.subs {
		names[i] = sub.Name()
	}
	out["sub-optim"] = strings.Join(names, ",")
}

type portfolioState struct {
	Rotation int               `json:"rotation"`
	Pending  map[string]int    `json:"pending,omitempty"`
	Subs     []json.RawMessage `json:"subs"`
}

func (m *portfolio) Snapshot() (json.RawMessage, error) {
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
	return json.Marshal(portfolioState{Rotation: m.rotation, Pending: m.pending, Subs: subs})
}

func (m *portfolio) Restore(data json.RawMessage) error {
	var st portfolioState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to restore portfolio state: %w", err)
	}
	if len(st.Subs) != len(m.subs) {
		return &ConfigurationError{Field: "state", Reason: "portfolio member count mismatch"}
	}
	m.rotation = st.Rotation
	m.pending = st.Pending
	if m.pending == nil {
		m.pending = map[string]int{}
	}
	for i, raw := range st.Subs {
		var sub optimizerState
		if err := json.Unmarshal(raw, &sub); err != nil {
			return fmt.Errorf("failed to restore portfolio member %d: %w", i, err)
		}
		if err := m.subs[i].restoreState(&sub); err != nil {
			return err
		}
	}
	return nil
}
