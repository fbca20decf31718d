package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cwbudde/blackbox/internal/bench"
	"github.com/cwbudde/blackbox/internal/opt"
	"github.com/cwbudde/blackbox/internal/store"
)

// runJob executes an optimization job in the background. If checkpointStore
// is not nil and the job has checkpointInterval > 0, periodic checkpoints
// are saved. A non-nil restored optimizer means the job resumes from a
// checkpoint instead of starting fresh.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string, restored *opt.Optimizer) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
		j.cancel = cancel
	})
	if err != nil {
		return err
	}

	cfg := bench.RunConfig{
		Strategy:  job.Config.Strategy,
		Objective: job.Config.Objective,
		Dimension: job.Config.Dimension,
		Budget:    job.Config.Budget,
		Workers:   job.Config.Workers,
		Seed:      job.Config.Seed,
	}

	slog.Info("Starting job",
		"job_id", jobID,
		"strategy", cfg.Strategy,
		"objective", cfg.Objective,
		"dimension", cfg.Dimension,
		"budget", cfg.Budget,
		"resumed", restored != nil,
	)

	obj, err := bench.LookupObjective(cfg.Objective)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	optimizer := restored
	if optimizer == nil {
		optimizer, err = bench.NewOptimizer(cfg)
		if err != nil {
			markJobFailed(jm, jobID, err)
			return err
		}
	}
	// A cancelled job abandons the run mid-budget; closing releases the
	// engine goroutine of recast strategies.
	defer optimizer.Close()

	// Trace writing needs the store's directory layout; only the
	// filesystem store provides one.
	var trace *store.TraceWriter
	if fsStore, ok := checkpointStore.(*store.FSStore); ok {
		trace, err = store.NewTraceWriter(fsStore.BaseDir(), jobID, restored != nil)
		if err != nil {
			slog.Warn("Failed to open trace writer", "job_id", jobID, "error", err)
		} else {
			defer trace.Close()
		}
	}

	start := time.Now()
	checkpointInterval := time.Duration(job.Config.CheckpointInterval) * time.Second
	var lastBroadcast, lastCheckpoint time.Time

	cfg.OnProgress = func(p bench.Progress) {
		jm.UpdateJob(jobID, func(j *Job) {
			j.Evaluations = p.Evaluations
			j.BestLoss = p.BestLoss
			j.BestData = p.BestData
			if j.InitialLoss == 0 && !math.IsNaN(p.Loss) && !math.IsInf(p.Loss, 0) {
				j.InitialLoss = p.Loss
			}
		})

		if trace != nil {
			trace.Write(store.TraceEntry{
				Evaluations: p.Evaluations,
				Loss:        p.BestLoss,
				Timestamp:   time.Now(),
			})
		}

		now := time.Now()

		// Throttle to 2 updates per second
		if now.Sub(lastBroadcast) >= 500*time.Millisecond {
			lastBroadcast = now
			elapsed := now.Sub(start).Seconds()
			var eps float64
			if elapsed > 0 {
				eps = float64(p.Evaluations) / elapsed
			}
			jm.broadcaster.Broadcast(ProgressEvent{
				JobID:       jobID,
				State:       StateRunning,
				Evaluations: p.Evaluations,
				BestLoss:    p.BestLoss,
				EvalsPerSec: eps,
				Timestamp:   now,
			})
		}

		if checkpointStore != nil && checkpointInterval > 0 && now.Sub(lastCheckpoint) >= checkpointInterval {
			lastCheckpoint = now
			if err := saveCheckpoint(jm, checkpointStore, optimizer, jobID); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}

	result, err := bench.Drive(ctx, optimizer, obj, cfg)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			markJobCancelled(jm, jobID)
			// A final checkpoint preserves the interrupted run for resume
			if checkpointStore != nil && checkpointInterval > 0 {
				saveCheckpoint(jm, checkpointStore, optimizer, jobID)
			}
			return err
		}
		markJobFailed(jm, jobID, err)
		return err
	}

	if trace != nil {
		trace.Flush()
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.BestData = result.BestData
		j.BestLoss = result.BestLoss
		if !math.IsNaN(result.InitialLoss) && j.InitialLoss == 0 {
			j.InitialLoss = result.InitialLoss
		}
		j.Evaluations = result.Evaluations
		j.Converged = result.Converged
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	// Final checkpoint captures the completed state
	if checkpointStore != nil && checkpointInterval > 0 {
		if err := saveCheckpoint(jm, checkpointStore, optimizer, jobID); err != nil {
			slog.Error("Failed to save final checkpoint", "job_id", jobID, "error", err)
		}
	}

	elapsed := endTime.Sub(start)
	var eps float64
	if elapsed.Seconds() > 0 {
		eps = float64(result.Evaluations) / elapsed.Seconds()
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"evaluations", result.Evaluations,
		"best_loss", result.BestLoss,
		"evals_per_second", eps,
	)

	// Broadcast final completion event
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:       jobID,
		State:       StateCompleted,
		Evaluations: result.Evaluations,
		BestLoss:    result.BestLoss,
		EvalsPerSec: eps,
		Timestamp:   time.Now(),
	})

	return nil
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}

// saveCheckpoint saves a checkpoint for the given job
func saveCheckpoint(jm *JobManager, checkpointStore store.Store, optimizer *opt.Optimizer, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	// Skip if nothing has been evaluated yet
	if len(job.BestData) == 0 {
		slog.Debug("Skipping checkpoint, no best point yet", "job_id", jobID)
		return nil
	}

	checkpoint := store.NewCheckpoint(
		jobID,
		job.BestData,
		job.BestLoss,
		job.InitialLoss,
		job.Evaluations,
		job.Config,
	)

	state, err := optimizer.MarshalState()
	if err != nil {
		if errors.Is(err, opt.ErrNotSerializable) {
			// Recast strategies checkpoint best-point-only
			slog.Debug("Strategy not serializable, checkpoint carries best point only",
				"job_id", jobID, "strategy", job.Config.Strategy)
		} else {
			return fmt.Errorf("failed to serialize optimizer state: %w", err)
		}
	} else {
		checkpoint.OptimizerState = state
	}

	if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved",
		"job_id", jobID,
		"evaluations", job.Evaluations,
		"best_loss", job.BestLoss,
	)
	return nil
}
