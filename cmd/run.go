package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/blackbox/internal/bench"
	"github.com/cwbudde/blackbox/internal/opt"
	"github.com/cwbudde/blackbox/internal/store"
)

var (
	runStrategy  string
	runObjective string
	runDimension int
	runBudget    int
	runWorkers   int
	runSeed      int64
	runPatience  int
	runThreshold float64

	runDataDir        string
	runJobID          string
	runCheckpointSecs int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run single-shot optimization",
	Long: `Runs an optimization over a registered objective and prints the
recommendation. With --data-dir set, the run writes a per-evaluation trace
and periodic checkpoints so an interrupted run can be resumed.`,
	RunE: runOptimization,
}

func init() {
	runCmd.Flags().StringVar(&runStrategy, "strategy", "NGOpt", "Optimization strategy name")
	runCmd.Flags().StringVar(&runObjective, "objective", "sphere", "Objective function name")
	runCmd.Flags().IntVar(&runDimension, "dim", 10, "Search-space dimension")
	runCmd.Flags().IntVar(&runBudget, "budget", 1000, "Evaluation budget")
	runCmd.Flags().IntVar(&runWorkers, "workers", 1, "Parallel evaluation workers")
	runCmd.Flags().Int64Var(&runSeed, "seed", 42, "Random seed (0 = unseeded)")
	runCmd.Flags().IntVar(&runPatience, "patience", 0, "Stop after N updates without significant improvement (0 = run full budget)")
	runCmd.Flags().Float64Var(&runThreshold, "threshold", 0.001, "Relative improvement counted as significant")

	runCmd.Flags().StringVar(&runDataDir, "data-dir", "", "Base directory for traces and checkpoints (empty = disabled)")
	runCmd.Flags().StringVar(&runJobID, "job-id", "", "Job ID for checkpointing (default: random)")
	runCmd.Flags().IntVar(&runCheckpointSecs, "checkpoint-interval", 30, "Seconds between checkpoints")

	rootCmd.AddCommand(runCmd)
}

func runOptimization(cmd *cobra.Command, args []string) error {
	cfg := bench.RunConfig{
		Strategy:  runStrategy,
		Objective: runObjective,
		Dimension: runDimension,
		Budget:    runBudget,
		Workers:   runWorkers,
		Seed:      runSeed,
	}
	if runPatience > 0 {
		cfg.Convergence = bench.ConvergenceConfig{
			Enabled:   true,
			Patience:  runPatience,
			Threshold: runThreshold,
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var result *bench.Result
	var err error
	if runDataDir == "" {
		result, err = bench.Run(ctx, cfg)
	} else {
		result, err = runWithCheckpoints(ctx, cfg)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("Interrupted.")
			return nil
		}
		return err
	}

	printResult(result)
	return nil
}

func printResult(result *bench.Result) {
	fmt.Printf("Recommendation: [%s]\n", formatVector(result.BestData))
	fmt.Printf("Loss: %.6g -> %.6g after %d evaluations (%s)\n",
		result.InitialLoss, result.BestLoss, result.Evaluations, result.Elapsed.Round(time.Millisecond))
	if result.Converged {
		fmt.Println("Stopped early: converged.")
	}
}

// runWithCheckpoints drives the run while persisting a per-evaluation trace
// and periodic checkpoints under --data-dir.
func runWithCheckpoints(ctx context.Context, cfg bench.RunConfig) (*bench.Result, error) {
	checkpointStore, err := store.NewFSStore(runDataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	jobID := runJobID
	if jobID == "" {
		jobID = uuid.New().String()
	}
	slog.Info("Checkpointing enabled", "job_id", jobID, "data_dir", runDataDir, "interval_seconds", runCheckpointSecs)

	optimizer, err := bench.NewOptimizer(cfg)
	if err != nil {
		return nil, err
	}
	defer optimizer.Close()
	obj, err := bench.LookupObjective(cfg.Objective)
	if err != nil {
		return nil, err
	}

	trace, err := store.NewTraceWriter(runDataDir, jobID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace writer: %w", err)
	}
	defer trace.Close()

	jobConfig := store.JobConfig{
		Objective:          cfg.Objective,
		Strategy:           cfg.Strategy,
		Dimension:          cfg.Dimension,
		Budget:             cfg.Budget,
		Workers:            cfg.Workers,
		Seed:               cfg.Seed,
		CheckpointInterval: runCheckpointSecs,
	}

	initialLoss := math.NaN()
	lastCheckpoint := time.Now()
	cfg.OnProgress = func(p bench.Progress) {
		if math.IsNaN(initialLoss) && !math.IsNaN(p.Loss) && !math.IsInf(p.Loss, 0) {
			initialLoss = p.Loss
		}
		if err := trace.Write(store.TraceEntry{
			Evaluations: p.Evaluations,
			Loss:        p.Loss,
			Timestamp:   time.Now(),
		}); err != nil {
			slog.Error("Failed to write trace entry", "job_id", jobID, "error", err)
		}
		if time.Since(lastCheckpoint) >= time.Duration(runCheckpointSecs)*time.Second {
			saveRunCheckpoint(checkpointStore, optimizer, jobID, p, initialLoss, jobConfig)
			lastCheckpoint = time.Now()
		}
	}

	result, err := bench.Drive(ctx, optimizer, obj, cfg)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// A final checkpoint lets the interrupted run resume.
			if best, ok := optimizer.CurrentBest(opt.RankPessimistic); ok {
				p := bench.Progress{
					Evaluations: optimizer.NumTell(),
					BestLoss:    best.Stats.Average(),
					BestData:    best.Data,
				}
				saveRunCheckpoint(checkpointStore, optimizer, jobID, p, initialLoss, jobConfig)
				fmt.Printf("Checkpoint saved; resume with: blackbox resume %s --data-dir %s\n", jobID, runDataDir)
			}
		}
		return nil, err
	}

	saveRunCheckpoint(checkpointStore, optimizer, jobID, bench.Progress{
		Evaluations: result.Evaluations,
		BestLoss:    result.BestLoss,
		BestData:    result.BestData,
	}, result.InitialLoss, jobConfig)
	return result, nil
}

// saveRunCheckpoint persists the optimizer state alongside the best point.
// Strategies wrapping external engines cannot be serialized; their
// checkpoints carry the best point only.
func saveRunCheckpoint(s store.Store, optimizer *opt.Optimizer, jobID string, p bench.Progress, initialLoss float64, config store.JobConfig) {
	if len(p.BestData) == 0 || math.IsNaN(p.BestLoss) {
		return
	}
	if math.IsNaN(initialLoss) {
		initialLoss = 0
	}
	checkpoint := store.NewCheckpoint(jobID, p.BestData, p.BestLoss, initialLoss, p.Evaluations, config)
	state, err := optimizer.MarshalState()
	switch {
	case err == nil:
		checkpoint.OptimizerState = state
	case errors.Is(err, opt.ErrNotSerializable):
		slog.Debug("Strategy not serializable, checkpointing best point only", "strategy", optimizer.Name())
	default:
		slog.Error("Failed to serialize optimizer state", "job_id", jobID, "error", err)
		return
	}
	if err := s.SaveCheckpoint(jobID, checkpoint); err != nil {
		slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
		return
	}
	slog.Info("Checkpoint saved", "job_id", jobID, "evaluations", p.Evaluations)
}

func formatVector(data []float64) string {
	parts := make([]string, len(data))
	for i, v := range data {
		parts[i] = fmt.Sprintf("%.4f", v)
	}
	return strings.Join(parts, ", ")
}
