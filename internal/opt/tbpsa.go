package opt

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

func init() {
	Register(Registration{
		Name: "TBPSA",
		Factory: func(env *Env) (Method, error) {
			return newTBPSA(env), nil
		},
	})
}

// tbpsaIndividual is an evaluated offspring with the step size it was
// sampled with.
type tbpsaIndividual struct {
	Data  []float64 `json:"data"`
	Sigma float64   `json:"sigma"`
	Loss  float64   `json:"loss"`
}

// tbpsa is a self-adaptive (mu, lambda) evolution strategy geared towards
// noisy objectives: offspring mutate their own step size, generations are
// folded by averaging the mu best, and the recommendation is the population
// center rather than any single noisy observation.
type tbpsa struct {
	env *Env

	mu      int
	llambda int

	center []float64
	sigma  float64

	pending    map[string]float64 // candidate uid -> sampling sigma
	generation []*tbpsaIndividual
}

func newTBPSA(env *Env) *tbpsa {
	dim := env.Dimension()
	llambda := 4 * dim
	if llambda < 8 {
		llambda = 8
	}
	if env.NumWorkers > llambda {
		llambda = env.NumWorkers
	}
	return &tbpsa{
		env:     env,
		mu:      llambda / 4,
		llambda: llambda,
		center:  make([]float64, dim),
		sigma:   1,
		pending: map[string]float64{},
	}
}

func (m *tbpsa) Ask() (*Candidate, error) {
	// Log-normal self-adaptation of the individual step size.
	sigma := m.sigma * math.Exp(m.env.RNG().NormFloat64()/math.Sqrt(2*float64(m.env.Dimension())))
	data := make([]float64, len(m.center))
	for i := range data {
		data[i] = m.center[i] + sigma*m.env.RNG().NormFloat64()
	}
	cand := m.env.NewCandidate(data)
	m.pending[cand.UID] = sigma
	return cand, nil
}

func (m *tbpsa) fold(data []float64, sigma, loss float64) {
	m.generation = append(m.generation, &tbpsaIndividual{
		Data:  append([]float64(nil), data...),
		Sigma: sigma,
		Loss:  loss,
	})
	if len(m.generation) < m.llambda {
		return
	}

	sort.SliceStable(m.generation, func(i, j int) bool {
		return m.generation[i].Loss < m.generation[j].Loss
	})
	parents := m.generation[:m.mu]

	center := make([]float64, len(m.center))
	logSigma := 0.0
	for _, p := range parents {
		for i, v := range p.Data {
			center[i] += v / float64(len(parents))
		}
		logSigma += math.Log(p.Sigma) / float64(len(parents))
	}
	m.center = center
	m.sigma = math.Exp(logSigma)
	m.generation = m.generation[:0]
}

func (m *tbpsa) Tell(cand *Candidate, loss float64) {
	loss = finiteLoss(loss)
	sigma, ok := m.pending[cand.UID]
	if !ok {
		sigma = m.sigma
	} else {
		delete(m.pending, cand.UID)
	}
	m.fold(cand.Data, sigma, loss)
}

func (m *tbpsa) TellNotAsked(cand *Candidate, loss float64) error {
	m.fold(cand.Data, m.sigma, finiteLoss(loss))
	return nil
}

// RecommendData reports the population center, which averages out
// observation noise instead of trusting the single best seen loss.
func (m *tbpsa) RecommendData() ([]float64, bool) {
	return append([]float64(nil), m.center...), true
}

type tbpsaState struct {
	Mu         int                `json:"mu"`
	Llambda    int                `json:"llambda"`
	Center     []float64          `json:"center"`
	Sigma      float64            `json:"sigma"`
	Generation []*tbpsaIndividual `json:"generation,omitempty"`
}

func (m *tbpsa) Snapshot() (json.RawMessage, error) {
	return json.Marshal(tbpsaState{
		Mu:         m.mu,
		Llambda:    m.llambda,
		Center:     m.center,
		Sigma:      m.sigma,
		Generation: m.generation,
	})
}

func (m *tbpsa) Restore(data json.RawMessage) error {
	var st tbpsaState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to restore TBPSA state: %w", err)
	}
	m.mu = st.Mu
	m.llambda = st.Llambda
	m.center = st.Center
	m.sigma = st.Sigma
	m.generation = st.Generation
	m.pending = map[string]float64{}
	return nil
}
