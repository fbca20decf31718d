package opt

import (
	"encoding/json"
	"fmt"
)

func init() {
	Register(Registration{
		Name:              "CompassSearch",
		NoParallelization: true,
		Factory: func(env *Env) (Method, error) {
			return &compassSearch{env: env, delta: 1}, nil
		},
	})
}

// compassSearch is coordinate-wise direct search: probe each axis in both
// directions with the current step, move the incumbent on improvement and
// halve the step after an unsuccessful full sweep. Strictly sequential, so
// it is registered as non-parallelizable.
type compassSearch struct {
	env *Env

	center   []float64
	bestLoss float64
	hasBase  bool

	delta float64
	axis  int
	dir   int // 0 probes +delta, 1 probes -delta
}

func (m *compassSearch) Ask() (*Candidate, error) {
	if m.center == nil {
		m.center = make([]float64, m.env.Dimension())
		return m.env.NewCandidate(append([]float64(nil), m.center...)), nil
	}
	data := append([]float64(nil), m.center...)
	if m.dir == 0 {
		data[m.axis] += m.delta
	} else {
		data[m.axis] -= m.delta
	}
	return m.env.NewCandidate(data), nil
}

func (m *compassSearch) Tell(cand *Candidate, loss float64) {
	loss = finiteLoss(loss)
	if !m.hasBase {
		m.bestLoss = loss
		m.hasBase = true
		return
	}
	if loss < m.bestLoss {
		m.center = append([]float64(nil), cand.Data...)
		m.bestLoss = loss
		m.axis = 0
		m.dir = 0
		return
	}
	m.dir++
	if m.dir > 1 {
		m.dir = 0
		m.axis++
		if m.axis >= m.env.Dimension() {
			m.axis = 0
			m.delta *= 0.5
		}
	}
}

type compassState struct {
	Center   []float64 `json:"center,omitempty"`
	BestLoss float64   `json:"best_loss"`
	HasBase  bool      `json:"has_base"`
	Delta    float64   `json:"delta"`
	Axis     int       `json:"axis"`
	Dir      int       `json:"dir"`
}

func (m *compassSearch) Snapshot() (json.RawMessage, error) {
	return json.Marshal(compassState{
		Center:   m.center,
		BestLoss: m.bestLoss,
		HasBase:  m.hasBase,
		Delta:    m.delta,
		Axis:     m.axis,
		Dir:      m.dir,
	})
}

func (m *compassSearch) Restore(data json.RawMessage) error {
	var st compassState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to restore compass state: %w", err)
	}
	m.center = st.Center
	m.bestLoss = st.BestLoss
	m.hasBase = st.HasBase
	m.delta = st.Delta
	m.axis = st.Axis
	m.dir = st.Dir
	return nil
}

func (m *compassSearch) TellNotAsked(*Candidate, float64) error {
	return ErrTellNotAskedNotSupported
}
