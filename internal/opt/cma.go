package opt

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

func init() {
	Register(Registration{
		Name: "CMA",
		Factory: func(env *Env) (Method, error) {
			return newCMA(env), nil
		},
	})
}

type cmaIndividual struct {
	Data []float64 `json:"data"`
	Loss float64   `json:"loss"`
}

// cma is a diagonal covariance matrix adaptation strategy: a Gaussian
// search distribution with per-coordinate variances, recentered each
// generation on the log-weighted mean of the best offspring. The diagonal
// restriction keeps updates linear in the dimension.
type cma struct {
	env *Env

	mu      int
	llambda int
	weights []float64

	center []float64
	sigma  float64
	scales []float64 // per-coordinate standard deviations

	generation []*cmaIndividual
}

func newCMA(env *Env) *cma {
	dim := env.Dimension()
	llambda := 4 + int(3*math.Log(float64(dim)))
	if env.NumWorkers > llambda {
		llambda = env.NumWorkers
	}
	mu := llambda / 2
	if mu < 1 {
		mu = 1
	}

	weights := make([]float64, mu)
	total := 0.0
	for i := range weights {
		weights[i] = math.Log(float64(mu)+0.5) - math.Log(float64(i+1))
		total += weights[i]
	}
	for i := range weights {
		weights[i] /= total
	}

	scales := make([]float64, dim)
	for i := range scales {
		scales[i] = 1
	}
	return &cma{
		env:     env,
		mu:      mu,
		llambda: llambda,
		weights: weights,
		center:  make([]float64, dim),
		sigma:   1,
		scales:  scales,
	}
}

func (m *cma) Ask() (*Candidate, error) {
	data := make([]float64, len(m.center))
	for i := range data {
		data[i] = m.center[i] + m.sigma*m.scales[i]*m.env.RNG().NormFloat64()
	}
	return m.env.NewCandidate(data), nil
}

func (m *cma) fold(data []float64, loss float64) {
	m.generation = append(m.generation, &cmaIndividual{
		Data: append([]float64(nil), data...),
		Loss: loss,
	})
	if len(m.generation) < m.llambda {
		return
	}

	sort.SliceStable(m.generation, func(i, j int) bool {
		return m.generation[i].Loss < m.generation[j].Loss
	})

	dim := len(m.center)
	oldCenter := m.center
	center := make([]float64, dim)
	variance := make([]float64, dim)
	for rank, w := range m.weights {
		ind := m.generation[rank]
		for i, v := range ind.Data {
			center[i] += w * v
			step := (v - oldCenter[i]) / m.sigma
			variance[i] += w * step * step
		}
	}

	// Smooth the per-coordinate variances; the learning rate follows the
	// usual 2/(dim+sqrt(2))^2 rank-one schedule.
	cCov := 2 / ((float64(dim) + math.Sqrt2) * (float64(dim) + math.Sqrt2))
	stepNorm := 0.0
	for i := range m.scales {
		v := (1-cCov)*m.scales[i]*m.scales[i] + cCov*variance[i]
		m.scales[i] = math.Sqrt(math.Max(v, 1e-10))
		d := (center[i] - oldCenter[i]) / (m.sigma * m.scales[i])
		stepNorm += d * d
	}

	// Step-size control: grow when the recenter step is longer than a
	// random walk would predict, shrink otherwise.
	expected := math.Sqrt(float64(dim)) * math.Sqrt(sumWeightsSquared(m.weights))
	m.sigma *= math.Exp((math.Sqrt(stepNorm)/expected - 1) / (2 * float64(dim)))
	if m.sigma < 1e-10 {
		m.sigma = 1e-10
	}

	m.center = center
	m.generation = m.generation[:0]
}

func sumWeightsSquared(weights []float64) float64 {
	total := 0.0
	for _, w := range weights {
		total += w * w
	}
	return total
}

func (m *cma) Tell(cand *Candidate, loss float64) {
	m.fold(cand.Data, finiteLoss(loss))
}

func (m *cma) TellNotAsked(cand *Candidate, loss float64) error {
	m.fold(cand.Data, finiteLoss(loss))
	return nil
}

type cmaState struct {
	Mu         int              `json:"mu"`
	Llambda    int              `json:"llambda"`
	Weights    []float64        `json:"weights"`
	Center     []float64        `json:"center"`
	Sigma      float64          `json:"sigma"`
	Scales     []float64        `json:"scales"`
	Generation []*cmaIndividual `json:"generation,omitempty"`
}

func (m *cma) Snapshot() (json.RawMessage, error) {
	return json.Marshal(cmaState{
		Mu:         m.mu,
		Llambda:    m.llambda,
		Weights:    m.weights,
		Center:     m.center,
		Sigma:      m.sigma,
		Scales:     m.scales,
		Generation: m.generation,
	})
}

func (m *cma) Restore(data json.RawMessage) error {
	var st cmaState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to restore CMA state: %w", err)
	}
	m.mu = st.Mu
	m.llambda = st.Llambda
	m.weights = st.Weights
	m.center = st.Center
	m.sigma = st.Sigma
	m.scales = st.Scales
	m.generation = st.Generation
	return nil
}
