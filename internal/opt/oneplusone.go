package opt

import (
	"encoding/json"
	"fmt"
	"math"
)

func init() {
	Register(Registration{
		Name: "OnePlusOne",
		Factory: func(env *Env) (Method, error) {
			return &onePlusOne{env: env, sigma: 1}, nil
		},
	})
	Register(Registration{
		Name: "DiscreteOnePlusOne",
		Factory: func(env *Env) (Method, error) {
			return &onePlusOne{env: env, sigma: 1, mutation: mutationDiscrete}, nil
		},
	})
	Register(Registration{
		Name: "DoubleFastGADiscreteOnePlusOne",
		Factory: func(env *Env) (Method, error) {
			return &onePlusOne{env: env, sigma: 1, mutation: mutationDoubleFastGA}, nil
		},
	})
}

type mutationKind int

const (
	mutationGaussian mutationKind = iota
	mutationDiscrete
	mutationDoubleFastGA
)

// onePlusOne is an evolution strategy with a single parent. The continuous
// flavor perturbs the incumbent with scaled Gaussian noise and adapts the
// step size towards a one-fifth success rate; the discrete flavors resample
// a subset of coordinates instead.
type onePlusOne struct {
	env      *Env
	mutation mutationKind

	sigma    float64
	best     []float64
	bestLoss float64
	hasBest  bool
	numAsk   int
}

func (m *onePlusOne) Ask() (*Candidate, error) {
	m.numAsk++
	if !m.hasBest {
		// Start from the center of the standardized space.
		return m.env.NewCandidate(make([]float64, m.env.Dimension())), nil
	}

	data := make([]float64, len(m.best))
	copy(data, m.best)
	switch m.mutation {
	case mutationGaussian:
		for i := range data {
			data[i] += m.sigma * m.env.RNG().NormFloat64()
		}
	case mutationDiscrete:
		m.mutateCoordinates(data, m.discreteRate())
	case mutationDoubleFastGA:
		m.mutateCoordinates(data, m.doubleFastGARate())
	}
	return m.env.NewCandidate(data), nil
}

// discreteRate mutates each coordinate with probability 1/dim, always at
// least one.
func (m *onePlusOne) discreteRate() int {
	dim := m.env.Dimension()
	n := 0
	for i := 0; i < dim; i++ {
		if m.env.RNG().Float64() < 1/float64(dim) {
			n++
		}
	}
	if n == 0 {
		n = 1
	}
	return n
}

// doubleFastGARate draws the number of mutated coordinates from a heavy
// tailed distribution covering both ends of [1, dim], so very small and
// very large mutations both stay likely regardless of dimension.
func (m *onePlusOne) doubleFastGARate() int {
	dim := m.env.Dimension()
	if dim <= 1 {
		return 1
	}
	// Power-law sample in [1, dim] with exponent beta = 1.5.
	const beta = 1.5
	u := m.env.RNG().Float64()
	hi := math.Pow(float64(dim), 1-beta)
	n := int(math.Pow(1+u*(hi-1), 1/(1-beta)))
	if n < 1 {
		n = 1
	}
	if n > dim {
		n = dim
	}
	// Mirror to the high end half of the time.
	if m.env.RNG().Float64() < 0.5 {
		n = dim + 1 - n
	}
	return n
}

func (m *onePlusOne) mutateCoordinates(data []float64, n int) {
	idx := m.env.RNG().Perm(len(data))[:n]
	for _, i := range idx {
		data[i] = m.env.RNG().NormFloat64()
	}
}

func (m *onePlusOne) Tell(cand *Candidate, loss float64) {
	loss = finiteLoss(loss)
	improved := !m.hasBest || loss <= m.bestLoss
	if improved {
		m.best = append([]float64(nil), cand.Data...)
		m.bestLoss = loss
		m.hasBest = true
	}
	if m.mutation == mutationGaussian {
		// One-fifth rule: grow fast on success, shrink slowly on failure.
		if improved {
			m.sigma *= 2.0
		} else {
			m.sigma *= 0.84
		}
	}
}

func (m *onePlusOne) TellNotAsked(cand *Candidate, loss float64) error {
	m.Tell(cand, loss)
	return nil
}

type onePlusOneState struct {
	Sigma    float64   `json:"sigma"`
	Best     []float64 `json:"best,omitempty"`
	BestLoss float64   `json:"best_loss"`
	HasBest  bool      `json:"has_best"`
	NumAsk   int       `json:"num_ask"`
}

func (m *onePlusOne) Snapshot() (json.RawMessage, error) {
	return json.Marshal(onePlusOneState{
		Sigma:    m.sigma,
		Best:     m.best,
		BestLoss: m.bestLoss,
		HasBest:  m.hasBest,
		NumAsk:   m.numAsk,
	})
}

func (m *onePlusOne) Restore(data json.RawMessage) error {
	var st onePlusOneState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to restore (1+1) state: %w", err)
	}
	m.sigma = st.Sigma
	m.best = st.Best
	m.bestLoss = st.BestLoss
	m.hasBest = st.HasBest
	m.numAsk = st.NumAsk
	return nil
}
