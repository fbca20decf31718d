package opt

import (
	"encoding/json"
	"fmt"
	"math"
)

func init() {
	Register(Registration{
		Name: "PSO",
		Factory: func(env *Env) (Method, error) {
			return newPSO(env), nil
		},
	})
}

// Standard inertia and attraction weights from Zambrano-Bigiarini et al.
var (
	psoOmega = 0.5 / math.Ln2
	psoPhiP  = 0.5 + math.Ln2
	psoPhiG  = 0.5 + math.Ln2
)

type psoParticle struct {
	Position []float64 `json:"position"`
	Velocity []float64 `json:"velocity"`
	Best     []float64 `json:"best,omitempty"`
	BestLoss float64   `json:"best_loss"`
	HasBest  bool      `json:"has_best"`
}

// pso is particle swarm optimization in the standardized space. Each
// particle keeps a velocity and its personal best; updates pull towards the
// personal and swarm-wide bests with random per-coordinate weights.
type pso struct {
	env *Env

	llambda  int
	swarm    []*psoParticle
	pending  map[string]int
	rotation int

	gBest     []float64
	gBestLoss float64
	hasGBest  bool
}

func newPSO(env *Env) *pso {
	llambda := 40
	if env.NumWorkers > llambda {
		llambda = env.NumWorkers
	}
	return &pso{env: env, llambda: llambda, pending: map[string]int{}}
}

func (m *pso) newParticle(position []float64) *psoParticle {
	vel := make([]float64, m.env.Dimension())
	for i := range vel {
		vel[i] = 2*m.env.RNG().Float64() - 1
	}
	return &psoParticle{Position: position, Velocity: vel}
}

func (m *pso) Ask() (*Candidate, error) {
	if len(m.swarm) < m.llambda {
		p := m.newParticle(m.env.Param.Sample())
		m.swarm = append(m.swarm, p)
		cand := m.env.NewCandidate(append([]float64(nil), p.Position...))
		m.pending[cand.UID] = len(m.swarm) - 1
		return cand, nil
	}

	idx := m.rotation % len(m.swarm)
	m.rotation++
	p := m.swarm[idx]
	if p.HasBest {
		for i := range p.Velocity {
			rp := m.env.RNG().Float64()
			rg := m.env.RNG().Float64()
			p.Velocity[i] = psoOmega*p.Velocity[i] + psoPhiP*rp*(p.Best[i]-p.Position[i])
			if m.hasGBest {
				p.Velocity[i] += psoPhiG * rg * (m.gBest[i] - p.Position[i])
			}
			p.Position[i] += p.Velocity[i]
		}
	}
	cand := m.env.NewCandidate(append([]float64(nil), p.Position...))
	m.pending[cand.UID] = idx
	return cand, nil
}

func (m *pso) update(idx int, data []float64, loss float64) {
	p := m.swarm[idx]
	if !p.HasBest || loss < p.BestLoss {
		p.Best = append([]float64(nil), data...)
		p.BestLoss = loss
		p.HasBest = true
	}
	if !m.hasGBest || loss < m.gBestLoss {
		m.gBest = append([]float64(nil), data...)
		m.gBestLoss = loss
		m.hasGBest = true
	}
}

func (m *pso) Tell(cand *Candidate, loss float64) {
	loss = finiteLoss(loss)
	idx, ok := m.pending[cand.UID]
	if !ok {
		m.fold(cand.Data, loss)
		return
	}
	delete(m.pending, cand.UID)
	m.update(idx, cand.Data, loss)
}

// fold inserts an external point: a fresh particle while the swarm is
// filling, otherwise a takeover of the worst particle when the newcomer
// beats its personal best.
func (m *pso) fold(data []float64, loss float64) {
	if len(m.swarm) < m.llambda {
		p := m.newParticle(append([]float64(nil), data...))
		m.swarm = append(m.swarm, p)
		m.update(len(m.swarm)-1, data, loss)
		return
	}
	worst := 0
	for i, p := range m.swarm {
		if !p.HasBest {
			worst = i
			break
		}
		if m.swarm[worst].HasBest && p.BestLoss > m.swarm[worst].BestLoss {
			worst = i
		}
	}
	if m.swarm[worst].HasBest && loss >= m.swarm[worst].BestLoss {
		return
	}
	m.swarm[worst].Position = append([]float64(nil), data...)
	m.update(worst, data, loss)
}

func (m *pso) TellNotAsked(cand *Candidate, loss float64) error {
	m.fold(cand.Data, finiteLoss(loss))
	return nil
}

type psoState struct {
	Llambda   int            `json:"llambda"`
	Swarm     []*psoParticle `json:"swarm"`
	Rotation  int            `json:"rotation"`
	GBest     []float64      `json:"g_best,omitempty"`
	GBestLoss float64        `json:"g_best_loss"`
	HasGBest  bool           `json:"has_g_best"`
}

func (m *pso) Snapshot() (json.RawMessage, error) {
	return json.Marshal(psoState{
		Llambda:   m.llambda,
		Swarm:     m.swarm,
		Rotation:  m.rotation,
		GBest:     m.gBest,
		GBestLoss: m.gBestLoss,
		HasGBest:  m.hasGBest,
	})
}

func (m *pso) Restore(data json.RawMessage) error {
	var st psoState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to restore PSO state: %w", err)
	}
	m.llambda = st.Llambda
	m.swarm = st.Swarm
	m.rotation = st.Rotation
	m.gBest = st.GBest
	m.gBestLoss = st.GBestLoss
	m.hasGBest = st.HasGBest
	m.pending = map[string]int{}
	return nil
}
