package opt

import (
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

func init() {
	Register(Registration{
		Name:              "Mayfly",
		Recast:            true,
		NoParallelization: true,
		Factory: func(env *Env) (Method, error) {
			return newRecast(env, runMayfly), nil
		},
	})
}

// recastRequest carries one evaluation demand from a recast engine to the
// ask/tell loop, with a reply channel for the loss.
type recastRequest struct {
	data  []float64
	reply chan float64
}

// recast adapts a callback-driven engine to the ask/tell protocol. The
// engine runs in its own goroutine and blocks inside its objective callback
// until Tell delivers the loss; Ask simply forwards the next evaluation
// demand. The bridge is strictly sequential and holds live goroutine state,
// so recast strategies are neither parallelizable nor serializable.
type recast struct {
	unsupportedTellNotAsked
	noSnapshot

	env     *Env
	engine  func(env *Env, objective func([]float64) float64)
	asks    chan *recastRequest
	stop    chan struct{}
	pending map[string]chan float64
	started bool
	stopped bool
	done    bool
}

func newRecast(env *Env, engine func(env *Env, objective func([]float64) float64)) *recast {
	return &recast{
		env:     env,
		engine:  engine,
		stop:    make(chan struct{}),
		pending: map[string]chan float64{},
	}
}

func (m *recast) start() {
	m.started = true
	m.asks = make(chan *recastRequest)
	go func() {
		defer close(m.asks)
		m.engine(m.env, func(data []float64) float64 {
			req := &recastRequest{data: data, reply: make(chan float64)}
			select {
			case m.asks <- req:
			case <-m.stop:
				return math.Inf(1)
			}
			select {
			case loss := <-req.reply:
				return loss
			case <-m.stop:
				return math.Inf(1)
			}
		})
	}()
}

// Close signals the engine goroutine to wind down. Pending evaluation
// demands resolve to +Inf so the engine reaches its own termination instead
// of blocking on an ask/tell loop that no longer runs.
func (m *recast) Close() error {
	if m.stopped {
		return nil
	}
	m.stopped = true
	close(m.stop)
	return nil
}

func (m *recast) Ask() (*Candidate, error) {
	if !m.started {
		m.start()
	}
	if !m.done {
		if req, ok := <-m.asks; ok {
			cand := m.env.NewCandidate(append([]float64(nil), req.data...))
			m.pending[cand.UID] = req.reply
			return cand, nil
		}
		m.done = true
	}
	// The engine converged before the budget ran out; keep the protocol
	// alive with prior samples.
	return m.env.NewCandidate(m.env.Param.Sample()), nil
}

func (m *recast) Tell(cand *Candidate, loss float64) {
	reply, ok := m.pending[cand.UID]
	if !ok {
		return
	}
	delete(m.pending, cand.UID)
	select {
	case reply <- finiteLoss(loss):
	case <-m.stop:
	}
}

// runMayfly drives the mayfly swarm engine over a symmetric box in the
// standardized space, sized so the whole budget is spent in evaluations.
func runMayfly(env *Env, objective func([]float64) float64) {
	cfg := mayfly.NewDefaultConfig()
	cfg.ObjectiveFunc = objective
	cfg.ProblemSize = env.Dimension()
	cfg.LowerBound = -5
	cfg.UpperBound = 5
	cfg.NPop = 20
	cfg.MaxIterations = env.Budget/cfg.NPop + 1
	cfg.Rand = rand.New(rand.NewSource(int64(env.RNG().Uint64())))
	// Errors surface as a finished engine; the bridge falls back to prior
	// sampling for any remaining budget.
	_, _ = mayfly.Optimize(cfg)
}
