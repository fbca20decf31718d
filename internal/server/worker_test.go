package server

import (
	"context"
	"testing"

	"github.com/cwbudde/blackbox/internal/store"
)

func TestRunJob_Success(t *testing.T) {
	jm := NewJobManager()
	config := JobConfig{
		Objective: "sphere",
		Strategy:  "OnePlusOne",
		Dimension: 2,
		Budget:    100,
		Workers:   1,
		Seed:      42,
	}

	job := jm.CreateJob(config)

	err := runJob(context.Background(), jm, nil, job.ID, nil)
	if err != nil {
		t.Errorf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}
	if updated.Evaluations != 100 {
		t.Errorf("Expected 100 evaluations, got %d", updated.Evaluations)
	}
	if len(updated.BestData) != 2 {
		t.Errorf("Expected 2-dimensional best point, got %d", len(updated.BestData))
	}
	if updated.InitialLoss == 0 {
		t.Error("InitialLoss should be set")
	}
	if updated.BestLoss > updated.InitialLoss {
		t.Errorf("BestLoss %f should not exceed InitialLoss %f", updated.BestLoss, updated.InitialLoss)
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}
}

func TestRunJob_UnknownObjective(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{
		Objective: "nonexistent",
		Strategy:  "OnePlusOne",
		Dimension: 2,
		Budget:    10,
		Workers:   1,
	})

	err := runJob(context.Background(), jm, nil, job.ID, nil)
	if err == nil {
		t.Error("runJob should fail with unknown objective")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if updated.Error == "" {
		t.Error("Error message should be set")
	}
}

func TestRunJob_UnknownStrategy(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{
		Objective: "sphere",
		Strategy:  "nonexistent",
		Dimension: 2,
		Budget:    10,
		Workers:   1,
	})

	err := runJob(context.Background(), jm, nil, job.ID, nil)
	if err == nil {
		t.Error("runJob should fail with unknown strategy")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{
		Objective: "sphere",
		Strategy:  "RandomSearch",
		Dimension: 2,
		Budget:    1000000, // Long-running job
		Workers:   1,
		Seed:      42,
	})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- runJob(ctx, jm, nil, job.ID, nil)
	}()

	cancel()
	err := <-done

	if err == nil {
		t.Error("runJob should return error when cancelled")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
}

func TestRunJob_WritesCheckpoint(t *testing.T) {
	tmpDir := t.TempDir()
	fsStore, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{
		Objective:          "sphere",
		Strategy:           "OnePlusOne",
		Dimension:          2,
		Budget:             50,
		Workers:            1,
		Seed:               7,
		CheckpointInterval: 1,
	})

	if err := runJob(context.Background(), jm, fsStore, job.ID, nil); err != nil {
		t.Fatalf("runJob failed: %v", err)
	}

	// Final checkpoint is always written when checkpointing is enabled
	checkpoint, err := fsStore.LoadCheckpoint(job.ID)
	if err != nil {
		t.Fatalf("Expected a final checkpoint: %v", err)
	}
	if checkpoint.Evaluations != 50 {
		t.Errorf("Expected checkpoint at 50 evaluations, got %d", checkpoint.Evaluations)
	}
	if len(checkpoint.OptimizerState) == 0 {
		t.Error("Checkpoint should embed the optimizer state")
	}

	// Trace should exist alongside the checkpoint
	reader, err := store.NewTraceReader(tmpDir, job.ID)
	if err != nil {
		t.Fatalf("Expected a trace file: %v", err)
	}
	defer reader.Close()
	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read trace: %v", err)
	}
	if len(entries) != 50 {
		t.Errorf("Expected 50 trace entries, got %d", len(entries))
	}
}
