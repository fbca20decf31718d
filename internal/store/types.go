package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobConfig holds configuration for an optimization job (checkpoint copy).
// This avoids import cycles with the server package.
type JobConfig struct {
	Objective          string `json:"objective"`
	Strategy           string `json:"strategy"`
	Dimension          int    `json:"dimension"`
	Budget             int    `json:"budget"`
	Workers            int    `json:"workers"`
	Seed               int64  `json:"seed"`
	CheckpointInterval int    `json:"checkpointInterval,omitempty"` // Checkpoint every N seconds (0 = disabled)
}

// Checkpoint represents a saved optimization state that can be resumed later.
// All fields are serialized to JSON for persistence.
//
// Besides the best point found so far, a checkpoint carries the full
// serialized optimizer state (archive, counters, random stream, strategy
// internals), so a resumed job continues the exact ask/tell sequence the
// interrupted one would have produced. Strategies wrapping external engines
// cannot be serialized; their checkpoints carry only the best point, and a
// resume restarts the engine while keeping the best result.
type Checkpoint struct {
	// JobID is the unique identifier for this optimization job
	JobID string `json:"jobId"`

	// BestData is the standardized point that achieved the lowest loss so far
	BestData []float64 `json:"bestData"`

	// BestLoss is the loss value achieved by BestData
	BestLoss float64 `json:"bestLoss"`

	// InitialLoss is the loss of the first evaluation, for improvement tracking
	InitialLoss float64 `json:"initialLoss"`

	// Evaluations is the number of completed evaluations at checkpoint time
	Evaluations int `json:"evaluations"`

	// Timestamp records when this checkpoint was created
	Timestamp time.Time `json:"timestamp"`

	// Config holds the job configuration, needed for validation during resume.
	// We ensure that resumed jobs use compatible settings (same objective,
	// strategy and dimension).
	Config JobConfig `json:"config"`

	// OptimizerState is the serialized optimizer, empty for strategies that
	// cannot be serialized.
	OptimizerState json.RawMessage `json:"optimizerState,omitempty"`
}

// CheckpointInfo contains metadata about a checkpoint without the full state.
// Used for listing checkpoints efficiently without loading archives.
type CheckpointInfo struct {
	// JobID is the unique identifier for this checkpoint
	JobID string `json:"jobId"`

	// BestLoss is the loss achieved at the time of checkpointing
	BestLoss float64 `json:"bestLoss"`

	// Evaluations is the evaluation count at checkpoint time
	Evaluations int `json:"evaluations"`

	// Timestamp records when this checkpoint was created
	Timestamp time.Time `json:"timestamp"`

	// Strategy is the optimization strategy name
	Strategy string `json:"strategy"`

	// Objective is the objective function name
	Objective string `json:"objective"`

	// Dimension is the search-space dimension
	Dimension int `json:"dimension"`
}

// NewCheckpoint creates a checkpoint from job state.
// This is a helper for converting runtime job state to a persistable checkpoint.
func NewCheckpoint(jobID string, bestData []float64, bestLoss, initialLoss float64, evaluations int, config JobConfig) *Checkpoint {
	return &Checkpoint{
		JobID:       jobID,
		BestData:    bestData,
		BestLoss:    bestLoss,
		InitialLoss: initialLoss,
		Evaluations: evaluations,
		Timestamp:   time.Now(),
		Config:      config,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:       c.JobID,
		BestLoss:    c.BestLoss,
		Evaluations: c.Evaluations,
		Timestamp:   c.Timestamp,
		Strategy:    c.Config.Strategy,
		Objective:   c.Config.Objective,
		Dimension:   c.Config.Dimension,
	}
}

// Validate checks if the checkpoint has valid data.
// Returns an error if any required field is missing or invalid.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.BestData) == 0 {
		return &ValidationError{Field: "BestData", Reason: "cannot be empty"}
	}
	if c.Evaluations < 0 {
		return &ValidationError{Field: "Evaluations", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.Objective == "" {
		return &ValidationError{Field: "Config.Objective", Reason: "cannot be empty"}
	}
	if c.Config.Strategy == "" {
		return &ValidationError{Field: "Config.Strategy", Reason: "cannot be empty"}
	}
	if c.Config.Dimension <= 0 {
		return &ValidationError{Field: "Config.Dimension", Reason: "must be positive"}
	}
	if c.Config.Budget <= 0 {
		return &ValidationError{Field: "Config.Budget", Reason: "must be positive"}
	}
	if c.Config.Workers <= 0 {
		return &ValidationError{Field: "Config.Workers", Reason: "must be positive"}
	}
	if len(c.BestData) != c.Config.Dimension {
		return &ValidationError{
			Field:  "BestData",
			Reason: fmt.Sprintf("length mismatch: expected %d coordinates, got %d", c.Config.Dimension, len(c.BestData)),
		}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given config.
// Returns an error if the configs are incompatible.
func (c *Checkpoint) IsCompatible(config JobConfig) error {
	if c.Config.Objective != config.Objective {
		return &CompatibilityError{
			Field:    "Objective",
			Expected: c.Config.Objective,
			Actual:   config.Objective,
		}
	}
	if c.Config.Strategy != config.Strategy {
		return &CompatibilityError{
			Field:    "Strategy",
			Expected: c.Config.Strategy,
			Actual:   config.Strategy,
		}
	}
	if c.Config.Dimension != config.Dimension {
		return &CompatibilityError{
			Field:    "Dimension",
			Expected: fmt.Sprintf("%d", c.Config.Dimension),
			Actual:   fmt.Sprintf("%d", config.Dimension),
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
