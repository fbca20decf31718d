package bench

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/blackbox/internal/opt"
	"github.com/cwbudde/blackbox/internal/param"
)

// Progress reports the state of a run after one evaluation was told.
type Progress struct {
	// Evaluations is the number of completed evaluations so far
	Evaluations int

	// Loss is the loss of the evaluation that was just told
	Loss float64

	// BestLoss is the pessimistic best loss so far
	BestLoss float64

	// BestData is the standardized point achieving BestLoss
	BestData []float64
}

// RunConfig configures an optimization run over a registered objective.
type RunConfig struct {
	Strategy  string
	Objective string
	Dimension int
	Budget    int
	Workers   int

	// Seed fixes the random stream; 0 keeps the default seeding.
	Seed int64

	// Convergence enables early stopping; the zero value disables it.
	Convergence ConvergenceConfig

	// OnProgress, when set, is called after every tell. Calls are
	// serialized, so the callback may checkpoint or write traces without
	// its own locking.
	OnProgress func(Progress)
}

// Result holds the output of an optimization run.
type Result struct {
	Strategy    string
	Objective   string
	BestData    []float64
	BestLoss    float64
	InitialLoss float64
	Evaluations int
	Converged   bool
	Elapsed     time.Duration
}

// NewOptimizer constructs the optimizer described by a run config, seeding
// its random stream when a seed is given.
func NewOptimizer(cfg RunConfig) (*opt.Optimizer, error) {
	p := param.FromDimension(cfg.Dimension)
	if cfg.Seed != 0 {
		p.SetSeed(cfg.Seed)
	}
	workers := cfg.Workers
	if workers == 0 {
		workers = 1
	}
	return opt.New(cfg.Strategy, p, cfg.Budget, workers)
}

// Run creates an optimizer per the config and drives it over the full
// budget against the named objective.
func Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	obj, err := LookupObjective(cfg.Objective)
	if err != nil {
		return nil, err
	}
	o, err := NewOptimizer(cfg)
	if err != nil {
		return nil, err
	}
	defer o.Close()
	return Drive(ctx, o, obj, cfg)
}

// Drive runs an existing optimizer against an objective until its budget is
// exhausted, the context is canceled, or the convergence tracker stops it.
// Resumed optimizers pick up at their restored ask counter, so the combined
// evaluation count of the original run and the resumed one never exceeds the
// budget.
func Drive(ctx context.Context, o *opt.Optimizer, obj Objective, cfg RunConfig) (*Result, error) {
	start := time.Now()
	tracker := NewConvergenceTracker(cfg.Convergence)

	var (
		mu          sync.Mutex
		issued      = o.NumAsk()
		initialLoss = math.NaN()
		converged   bool
	)
	budget := o.Budget()

	takeSlot := func() bool {
		mu.Lock()
		defer mu.Unlock()
		if converged || issued >= budget {
			return false
		}
		issued++
		return true
	}

	slog.Info("Starting optimization run",
		"strategy", o.Name(),
		"objective", obj.Name,
		"dimension", o.Dimension(),
		"budget", budget,
		"workers", o.NumWorkers(),
		"completed", o.NumTell(),
	)

	g, gctx := errgroup.WithContext(ctx)
	workers := o.NumWorkers()
	if workers > budget {
		workers = budget
	}
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for takeSlot() {
				if err := gctx.Err(); err != nil {
					return err
				}
				cand, err := o.Ask()
				if err != nil {
					return err
				}
				loss := obj.Eval(cand.Data)
				if err := o.Tell(cand, loss); err != nil {
					return err
				}

				mu.Lock()
				if math.IsNaN(initialLoss) && !math.IsNaN(loss) && !math.IsInf(loss, 0) {
					initialLoss = loss
				}
				best, hasBest := o.CurrentBest(opt.RankPessimistic)
				if hasBest && tracker.Update(best.Stats.Average()) {
					converged = true
				}
				if cfg.OnProgress != nil {
					p := Progress{
						Evaluations: o.NumTell(),
						Loss:        loss,
					}
					if hasBest {
						p.BestLoss = best.Stats.Average()
						p.BestData = best.Data
					}
					cfg.OnProgress(p)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	recom := o.Recommend()
	result := &Result{
		Strategy:    o.Name(),
		Objective:   obj.Name,
		BestData:    recom.Data,
		Evaluations: o.NumTell(),
		InitialLoss: initialLoss,
		Converged:   converged,
		Elapsed:     time.Since(start),
	}
	if best, ok := o.CurrentBest(opt.RankPessimistic); ok {
		result.BestLoss = best.Stats.Average()
	} else {
		result.BestLoss = math.NaN()
	}

	slog.Info("Optimization run complete",
		"strategy", o.Name(),
		"objective", obj.Name,
		"evaluations", result.Evaluations,
		"best_loss", result.BestLoss,
		"converged", result.Converged,
		"elapsed", result.Elapsed,
	)
	return result, nil
}
