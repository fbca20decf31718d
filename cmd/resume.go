package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/blackbox/internal/bench"
	"github.com/cwbudde/blackbox/internal/opt"
	"github.com/cwbudde/blackbox/internal/param"
	"github.com/cwbudde/blackbox/internal/store"
)

var resumeDataDir string

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume an interrupted run from its checkpoint",
	Long: `Loads the checkpoint for a job and continues the run until the
remaining budget is exhausted. Runs whose strategy state was serialized
continue the exact ask/tell sequence; runs of non-serializable strategies
restart the engine while keeping the best result found so far.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	checkpointStore, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	checkpoint, err := checkpointStore.LoadCheckpoint(jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no checkpoint for job %s", jobID)
		}
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("corrupt checkpoint for job %s: %w", jobID, err)
	}

	cfg := bench.RunConfig{
		Strategy:  checkpoint.Config.Strategy,
		Objective: checkpoint.Config.Objective,
		Dimension: checkpoint.Config.Dimension,
		Budget:    checkpoint.Config.Budget,
		Workers:   checkpoint.Config.Workers,
		Seed:      checkpoint.Config.Seed,
	}
	obj, err := bench.LookupObjective(cfg.Objective)
	if err != nil {
		return err
	}

	var optimizer *opt.Optimizer
	if len(checkpoint.OptimizerState) > 0 {
		optimizer, err = opt.Restore(checkpoint.OptimizerState, param.FromDimension(cfg.Dimension))
		if err != nil {
			return fmt.Errorf("failed to restore optimizer: %w", err)
		}
	} else {
		// Best-point-only checkpoint: restart the strategy and seed it with
		// the saved best so the result never regresses.
		optimizer, err = bench.NewOptimizer(cfg)
		if err != nil {
			return err
		}
		cand, err := optimizer.CandidateFromData(checkpoint.BestData)
		if err == nil {
			if err := optimizer.Tell(cand, checkpoint.BestLoss); err != nil {
				slog.Debug("Strategy ignored injected best point", "strategy", cfg.Strategy, "error", err)
			}
		}
	}

	defer optimizer.Close()

	slog.Info("Resuming job",
		"job_id", jobID,
		"strategy", cfg.Strategy,
		"objective", cfg.Objective,
		"completed", optimizer.NumTell(),
		"budget", cfg.Budget,
	)

	trace, err := store.NewTraceWriter(resumeDataDir, jobID, true)
	if err != nil {
		return fmt.Errorf("failed to open trace: %w", err)
	}
	defer trace.Close()

	interval := checkpoint.Config.CheckpointInterval
	if interval <= 0 {
		interval = 30
	}
	initialLoss := checkpoint.InitialLoss
	lastCheckpoint := time.Now()
	cfg.OnProgress = func(p bench.Progress) {
		if initialLoss == 0 && !math.IsNaN(p.Loss) && !math.IsInf(p.Loss, 0) {
			initialLoss = p.Loss
		}
		if err := trace.Write(store.TraceEntry{
			Evaluations: p.Evaluations,
			Loss:        p.Loss,
			Timestamp:   time.Now(),
		}); err != nil {
			slog.Error("Failed to write trace entry", "job_id", jobID, "error", err)
		}
		if time.Since(lastCheckpoint) >= time.Duration(interval)*time.Second {
			saveRunCheckpoint(checkpointStore, optimizer, jobID, p, initialLoss, checkpoint.Config)
			lastCheckpoint = time.Now()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := bench.Drive(ctx, optimizer, obj, cfg)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			if best, ok := optimizer.CurrentBest(opt.RankPessimistic); ok {
				p := bench.Progress{
					Evaluations: optimizer.NumTell(),
					BestLoss:    best.Stats.Average(),
					BestData:    best.Data,
				}
				saveRunCheckpoint(checkpointStore, optimizer, jobID, p, initialLoss, checkpoint.Config)
			}
			fmt.Println("Interrupted; checkpoint saved.")
			return nil
		}
		return err
	}

	saveRunCheckpoint(checkpointStore, optimizer, jobID, bench.Progress{
		Evaluations: result.Evaluations,
		BestLoss:    result.BestLoss,
		BestData:    result.BestData,
	}, initialLoss, checkpoint.Config)

	result.InitialLoss = initialLoss
	printResult(result)
	return nil
}
