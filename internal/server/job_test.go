package server

import (
	"testing"
	"time"
)

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	config := JobConfig{
		Objective: "sphere",
		Strategy:  "NGOpt",
		Dimension: 3,
		Budget:    100,
		Workers:   1,
		Seed:      42,
	}

	job := jm.CreateJob(config)

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}

	if job.Config.Strategy != "NGOpt" {
		t.Errorf("Config not set correctly")
	}
}

func TestJobManager_AdoptJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.AdoptJob("resumed-id", JobConfig{Objective: "sphere", Strategy: "DE"})

	if job.ID != "resumed-id" {
		t.Errorf("Adopted job should keep its ID, got %s", job.ID)
	}

	retrieved, exists := jm.GetJob("resumed-id")
	if !exists || retrieved.Config.Strategy != "DE" {
		t.Error("Adopted job should be retrievable under its original ID")
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()

	config := JobConfig{Objective: "sphere", Strategy: "CMA"}
	job := jm.CreateJob(config)

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Error("Job should exist")
	}

	if retrieved.ID != job.ID {
		t.Error("Retrieved wrong job")
	}

	_, exists = jm.GetJob("nonexistent")
	if exists {
		t.Error("Should not find nonexistent job")
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()

	if len(jm.ListJobs()) != 0 {
		t.Error("Should start with no jobs")
	}

	jm.CreateJob(JobConfig{Objective: "sphere"})
	jm.CreateJob(JobConfig{Objective: "rosenbrock"})

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(JobConfig{Objective: "sphere"})

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Evaluations = 10
		j.BestLoss = 123.45
	})

	if err != nil {
		t.Errorf("Update should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning {
		t.Error("State should be updated")
	}
	if updated.Evaluations != 10 {
		t.Error("Evaluations should be updated")
	}
	if updated.BestLoss != 123.45 {
		t.Error("BestLoss should be updated")
	}

	err = jm.UpdateJob("nonexistent", func(j *Job) {})
	if err == nil {
		t.Error("Update of nonexistent job should fail")
	}
}

func TestJobManager_CancelJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(JobConfig{Objective: "sphere"})

	// No cancel function registered yet
	if jm.CancelJob(job.ID) {
		t.Error("Cancel should fail before the worker starts")
	}

	cancelled := false
	jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.cancel = func() { cancelled = true }
	})

	if !jm.CancelJob(job.ID) {
		t.Error("Cancel should succeed for a running job")
	}
	if !cancelled {
		t.Error("Cancel function should have been called")
	}

	// Completed jobs cannot be cancelled
	jm.UpdateJob(job.ID, func(j *Job) { j.State = StateCompleted })
	if jm.CancelJob(job.ID) {
		t.Error("Cancel should fail for a completed job")
	}

	if jm.CancelJob("nonexistent") {
		t.Error("Cancel should fail for unknown jobs")
	}
}

func TestJobManager_ThreadSafety(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(JobConfig{Objective: "sphere"})

	// Simulate concurrent updates
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(evaluation int) {
			jm.UpdateJob(job.ID, func(j *Job) {
				j.Evaluations = evaluation
				time.Sleep(1 * time.Millisecond)
			})
			done <- true
		}(i)
	}

	// Wait for all updates
	for i := 0; i < 10; i++ {
		<-done
	}

	// Should not crash - actual value depends on race
	_, exists := jm.GetJob(job.ID)
	if !exists {
		t.Error("Job should still exist after concurrent updates")
	}
}
