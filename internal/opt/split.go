package opt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwbudde/blackbox/internal/param"
)

func init() {
	Register(Registration{
		Name: "SplitOptimizer",
		Factory: func(env *Env) (Method, error) {
			return newSplit(env, 0)
		},
	})
}

// NewSplit composes an optimizer decomposing the search space into n
// independent groups; n = 0 uses the parametrization's natural grouping,
// which is what the canned "SplitOptimizer" registration does.
func NewSplit(p *param.Parametrization, budget, numWorkers int, n int) (*Optimizer, error) {
	return build(Registration{
		Name: "SplitOptimizer",
		Factory: func(env *Env) (Method, error) {
			return newSplit(env, n)
		},
	}, p, budget, numWorkers)
}

// split decomposes the search space into independent groups and runs one
// optimizer per group. Each ask concatenates one ask from every group; a
// tell fans the same loss out to all of them. Separable problems converge
// much faster this way since every group searches a fraction of the
// dimensions.
type split struct {
	env     *Env
	groups  []*param.Parametrization
	subs    []*Optimizer
	pending map[string][]string // parent uid -> per-group sub uids
}

// newSplit cuts the space into n groups (0 means the parametrization's
// natural grouping) and assigns a distribution-based optimizer to
// multivariate groups and a cheap (1+1) strategy to single coordinates.
func newSplit(env *Env, n int) (*split, error) {
	groups := env.Param.Groups(n)

	subs := make([]*Optimizer, len(groups))
	for i, g := range groups {
		name := "CMA"
		if g.Dimension() == 1 {
			name = "OnePlusOne"
		}
		sub, err := New(name, g, env.Budget, env.NumWorkers)
		if err != nil {
			return nil, fmt.Errorf("failed to build group optimizer %s: %w", name, err)
		}
		subs[i] = sub
	}
	return &split{env: env, groups: groups, subs: subs, pending: map[string][]string{}}, nil
}

func (m *split) Ask() (*Candidate, error) {
	data := make([]float64, 0, m.env.Dimension())
	subUIDs := make([]string, len(m.subs))
	for i, sub := range m.subs {
		subCand, err := sub.Ask()
		if err != nil {
			return nil, err
		}
		data = append(data, subCand.Data...)
		subUIDs[i] = subCand.UID
	}
	cand := m.env.NewCandidate(data)
	m.pending[cand.UID] = subUIDs
	return cand, nil
}

// slices cuts a full data vector along the group boundaries.
func (m *split) slices(data []float64) [][]float64 {
	out := make([][]float64, len(m.groups))
	offset := 0
	for i, g := range m.groups {
		out[i] = data[offset : offset+g.Dimension()]
		offset += g.Dimension()
	}
	return out
}

func (m *split) Tell(cand *Candidate, loss float64) {
	subUIDs, ok := m.pending[cand.UID]
	if !ok {
		m.tellForeign(cand.Data, loss)
		return
	}
	delete(m.pending, cand.UID)
	parts := m.slices(cand.Data)
	for i, sub := range m.subs {
		subCand, tracked := sub.asked[subUIDs[i]]
		if !tracked {
			subCand = &Candidate{UID: subUIDs[i], Data: append([]float64(nil), parts[i]...)}
		}
		if err := sub.Tell(subCand, loss); err != nil {
			slog.Debug("Group optimizer rejected tell", "group", i, "error", err)
		}
	}
}

// tellForeign folds a point no group asked for by injecting each slice as
// an external candidate.
func (m *split) tellForeign(data []float64, loss float64) {
	for i, part := range m.slices(data) {
		sub := m.subs[i]
		subCand, err := sub.CandidateFromData(part)
		if err != nil {
			slog.Debug("Group candidate rejected", "group", i, "error", err)
			continue
		}
		if err := sub.Tell(subCand, loss); err != nil {
			slog.Debug("Group optimizer rejected external tell", "group", i, "error", err)
		}
	}
}

func (m *split) TellNotAsked(cand *Candidate, loss float64) error {
	m.tellForeign(cand.Data, loss)
	return nil
}

// RecommendData joins the per-group recommendations, which beats the single
// best archived point whenever the groups improved independently.
func (m *split) RecommendData() ([]float64, bool) {
	data := make([]float64, 0, m.env.Dimension())
	for _, sub := range m.subs {
		data = append(data, sub.Recommend().Data...)
	}
	return data, true
}

func (m *split) Close() error {
	var firstErr error
	for _, sub := range m.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *split) Info(out map[string]any) {
	names := make([]string, len(m.subs))
	for i, sub := range m.subs {
		names[i] = fmt.Sprintf("%s/%d", sub.Name(), sub.Dimension())
	}
	out["sub-optim"] = strings.Join(names, ",")
}

type splitState struct {
	Pending map[string][]string `json:"pending,omitempty"`
	Subs    []json.RawMessage   `json:"subs"`
}

func (m *split) Snapshot() (json.RawMessage, error) {
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
	return json.Marshal(splitState{Pending: m.pending, Subs: subs})
}

func (m *split) Restore(data json.RawMessage) error {
	var st splitState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to restore split state: %w", err)
	}
	if len(st.Subs) != len(m.subs) {
		return &ConfigurationError{Field: "state", Reason: "group count mismatch"}
	}
	m.pending = st.Pending
	if m.pending == nil {
		m.pending = map[string][]string{}
	}
	for i, raw := range st.Subs {
		var sub optimizerState
		if err := json.Unmarshal(raw, &sub); err != nil {
			return fmt.Errorf("failed to restore group %d: %w", i, err)
		}
		if err := m.subs[i].restoreState(&sub); err != nil {
			return err
		}
	}
	return nil
}
