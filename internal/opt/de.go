package opt

import (
	"encoding/json"
	"fmt"
)

func init() {
	Register(Registration{
		Name: "DE",
		Factory: func(env *Env) (Method, error) {
			return newDE(env, deConfig{Crossover: crossoverUniform, Popsize: popsizeStandard}), nil
		},
	})
	Register(Registration{
		Name: "TwoPointsDE",
		Factory: func(env *Env) (Method, error) {
			return newDE(env, deConfig{Crossover: crossoverTwoPoints, Popsize: popsizeStandard}), nil
		},
	})
	Register(Registration{
		Name: "RotationInvariantDE",
		Factory: func(env *Env) (Method, error) {
			return newDE(env, deConfig{Crossover: crossoverFull, Popsize: popsizeDimension}), nil
		},
	})
	Register(Registration{
		Name: "BPRotationInvariantDE",
		Factory: func(env *Env) (Method, error) {
			return newDE(env, deConfig{Crossover: crossoverFull, Popsize: popsizeLarge}), nil
		},
	})
}

type crossoverKind int

const (
	// crossoverUniform mixes donor and parent coordinate-wise.
	crossoverUniform crossoverKind = iota
	// crossoverTwoPoints grafts a contiguous donor segment into the parent.
	crossoverTwoPoints
	// crossoverFull takes the donor as-is, keeping rotation invariance.
	crossoverFull
)

type popsizeKind int

const (
	popsizeStandard popsizeKind = iota
	popsizeDimension
	popsizeLarge
)

type deConfig struct {
	Crossover crossoverKind
	Popsize   popsizeKind
}

const (
	deF1 = 0.8
	deF2 = 0.8
	deCR = 0.5
)

// deIndividual is one population slot with its last evaluated loss.
type deIndividual struct {
	Data []float64 `json:"data"`
	Loss float64   `json:"loss"`
}

// de is differential evolution. The population fills up with prior samples
// first; afterwards each ask perturbs a round-robin parent with a scaled
// difference of two random individuals plus a pull towards the current best,
// and the offspring replaces its parent only when it does not lose to it.
type de struct {
	env *Env
	cfg deConfig

	llambda  int
	pop      []*deIndividual
	pending  map[string]int // candidate uid -> parent slot, -1 for initializers
	rotation int
}

func newDE(env *Env, cfg deConfig) *de {
	dim := env.Dimension()
	term := 0
	switch cfg.Popsize {
	case popsizeDimension:
		term = dim + 1
	case popsizeLarge:
		term = 7 * dim
	}
	llambda := 30
	if env.NumWorkers > llambda {
		llambda = env.NumWorkers
	}
	if term > llambda {
		llambda = term
	}
	return &de{env: env, cfg: cfg, llambda: llambda, pending: map[string]int{}}
}

func (m *de) Ask() (*Candidate, error) {
	if len(m.pop)+len(m.pending) < m.llambda || len(m.pop) == 0 {
		cand := m.env.NewCandidate(m.env.Param.Sample())
		m.pending[cand.UID] = -1
		return cand, nil
	}

	idx := m.rotation % len(m.pop)
	m.rotation++
	parent := m.pop[idx]

	best := m.bestIndex()
	a := m.pop[m.env.RNG().Intn(len(m.pop))]
	b := m.pop[m.env.RNG().Intn(len(m.pop))]

	donor := make([]float64, len(parent.Data))
	for i := range donor {
		donor[i] = parent.Data[i] + deF1*(a.Data[i]-b.Data[i]) + deF2*(m.pop[best].Data[i]-parent.Data[i])
	}
	data := m.crossover(parent.Data, donor)

	cand := m.env.NewCandidate(data)
	m.pending[cand.UID] = idx
	return cand, nil
}

func (m *de) crossover(parent, donor []float64) []float64 {
	out := make([]float64, len(parent))
	switch m.cfg.Crossover {
	case crossoverFull:
		copy(out, donor)
	case crossoverTwoPoints:
		copy(out, parent)
		lo := m.env.RNG().Intn(len(parent))
		hi := m.env.RNG().Intn(len(parent))
		if lo > hi {
			lo, hi = hi, lo
		}
		for i := lo; i <= hi; i++ {
			out[i] = donor[i]
		}
	default:
		// Always inherit at least one donor coordinate.
		forced := m.env.RNG().Intn(len(parent))
		for i := range parent {
			if i == forced || m.env.RNG().Float64() < deCR {
				out[i] = donor[i]
			} else {
				out[i] = parent[i]
			}
		}
	}
	return out
}

func (m *de) bestIndex() int {
	best := 0
	for i, ind := range m.pop {
		if ind.Loss < m.pop[best].Loss {
			best = i
		}
	}
	return best
}

func (m *de) worstIndex() int {
	worst := 0
	for i, ind := range m.pop {
		if ind.Loss > m.pop[worst].Loss {
			worst = i
		}
	}
	return worst
}

func (m *de) Tell(cand *Candidate, loss float64) {
	loss = finiteLoss(loss)
	slot, ok := m.pending[cand.UID]
	if !ok {
		// Result for a forgotten candidate, e.g. after a restore; fold it
		// through the external-point path instead of dropping it.
		m.fold(cand.Data, loss)
		return
	}
	delete(m.pending, cand.UID)
	if slot < 0 {
		m.fold(cand.Data, loss)
		return
	}
	if loss <= m.pop[slot].Loss {
		m.pop[slot] = &deIndividual{Data: append([]float64(nil), cand.Data...), Loss: loss}
	}
}

// fold inserts a point bypassing parent selection: append while the
// population is filling, otherwise replace the worst individual when the
// newcomer beats it.
func (m *de) fold(data []float64, loss float64) {
	ind := &deIndividual{Data: append([]float64(nil), data...), Loss: loss}
	if len(m.pop) < m.llambda {
		m.pop = append(m.pop, ind)
		return
	}
	worst := m.worstIndex()
	if loss < m.pop[worst].Loss {
		m.pop[worst] = ind
	}
}

func (m *de) TellNotAsked(cand *Candidate, loss float64) error {
	m.fold(cand.Data, finiteLoss(loss))
	return nil
}

type deState struct {
	Llambda  int             `json:"llambda"`
	Pop      []*deIndividual `json:"pop"`
	Rotation int             `json:"rotation"`
}

func (m *de) Snapshot() (json.RawMessage, error) {
	// Pending asks are dropped; their tells fold through the external path.
	return json.Marshal(deState{Llambda: m.llambda, Pop: m.pop, Rotation: m.rotation})
}

func (m *de) Restore(data json.RawMessage) error {
	var st deState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to restore DE state: %w", err)
	}
	m.llambda = st.Llambda
	m.pop = st.Pop
	m.rotation = st.Rotation
	m.pending = map[string]int{}
	return nil
}
