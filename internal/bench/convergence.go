package bench

import (
	"log/slog"
	"math"
)

// ConvergenceConfig defines parameters for detecting optimization convergence
type ConvergenceConfig struct {
	// Enabled controls whether convergence detection is active
	Enabled bool

	// Patience is the number of updates with no improvement before stopping
	Patience int

	// Threshold is the minimum relative improvement required to count as progress
	// Example: 0.001 = 0.1% improvement required
	// Relative improvement = (oldLoss - newLoss) / oldLoss
	Threshold float64
}

// DefaultConvergenceConfig returns sensible defaults for convergence detection
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   true,
		Patience:  50,
		Threshold: 0.001, // 0.1% improvement
	}
}

// DisabledConvergenceConfig returns a config with convergence detection disabled
func DisabledConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled: false,
	}
}

// ConvergenceTracker tracks loss history and detects when optimization has
// stopped making progress. It is fed the best-so-far loss after every
// evaluation, so non-finite losses from broken objectives never enter it.
type ConvergenceTracker struct {
	config          ConvergenceConfig
	bestLoss        float64 // Best loss ever seen
	lastSignificant float64 // Last loss that was a significant improvement
	staleCount      int     // Number of updates without significant improvement
	updates         int
}

// NewConvergenceTracker creates a new convergence tracker with the given config
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		bestLoss:        math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records a new loss value and returns true if convergence is detected
func (c *ConvergenceTracker) Update(loss float64) bool {
	if !c.config.Enabled {
		return false // Never converge if disabled
	}
	if math.IsNaN(loss) {
		return false
	}

	c.updates++
	if loss < c.bestLoss {
		c.bestLoss = loss
	}

	// First loss initializes the reference point
	if c.updates == 1 {
		c.lastSignificant = loss
		return false
	}

	relativeImprovement := (c.lastSignificant - loss) / math.Abs(c.lastSignificant)

	if relativeImprovement >= c.config.Threshold {
		c.lastSignificant = loss
		c.staleCount = 0
		slog.Debug("Loss improvement detected",
			"loss", loss,
			"relative_improvement", relativeImprovement,
		)
		return false
	}

	c.staleCount++
	if c.staleCount >= c.config.Patience {
		slog.Info("Convergence detected, stopping early",
			"stale_count", c.staleCount,
			"patience", c.config.Patience,
			"best_loss", c.bestLoss,
		)
		return true
	}
	return false
}

// BestLoss returns the best loss seen so far
func (c *ConvergenceTracker) BestLoss() float64 {
	return c.bestLoss
}

// StaleCount returns the current number of updates without improvement
func (c *ConvergenceTracker) StaleCount() int {
	return c.staleCount
}

// Reset clears the tracker's state
func (c *ConvergenceTracker) Reset() {
	c.bestLoss = math.Inf(1)
	c.lastSignificant = math.Inf(1)
	c.staleCount = 0
	c.updates = 0
}
