package opt

import (
	"encoding/json"
	"math"

	"github.com/cwbudde/blackbox/internal/param"
	"github.com/cwbudde/blackbox/internal/randx"
)

// Method is the algorithm-specific engine behind an Optimizer. The base
// state machine handles counters, the archive and current-bests tracking;
// the method only proposes points and folds results into its own state.
//
// Methods are driven single-threaded by their owning optimizer and never
// block: Ask and Tell must return promptly.
type Method interface {
	// Ask proposes the next candidate. Implementations create candidates
	// through their Env so identifiers and decoding stay consistent.
	Ask() (*Candidate, error)

	// Tell folds the result of a previously asked candidate. The loss is
	// already folded to a scalar and sanitized: non-finite losses arrive
	// as +Inf.
	Tell(cand *Candidate, loss float64)

	// TellNotAsked folds an externally injected candidate, or returns
	// ErrTellNotAskedNotSupported when the algorithm cannot use it.
	TellNotAsked(cand *Candidate, loss float64) error

	// Snapshot serializes the engine state for dump/load.
	Snapshot() (json.RawMessage, error)

	// Restore rebuilds the engine state from a snapshot.
	Restore(data json.RawMessage) error
}

// recommender is implemented by methods that override the default
// archive-based recommendation with a model-based estimate (e.g. the mean
// of a fitted distribution).
type recommender interface {
	RecommendData() ([]float64, bool)
}

// infoer is implemented by methods exposing structured introspection data,
// e.g. the "sub-optim" key of dispatchers and combinators.
type infoer interface {
	Info(out map[string]any)
}

// Env gives a method access to its problem context. The candidate factory
// is wired by the owning optimizer before first use.
type Env struct {
	Param      *param.Parametrization
	Budget     int
	NumWorkers int

	newCandidate func(data []float64) *Candidate
}

// Dimension returns the standardized dimension of the search space.
func (e *Env) Dimension() int { return e.Param.Dimension() }

// RNG returns the parametrization's explicit random generator.
func (e *Env) RNG() *randx.State { return e.Param.RNG() }

// NewCandidate creates a candidate for the given standardized data,
// decoding the value and assigning identifier and generation.
func (e *Env) NewCandidate(data []float64) *Candidate {
	return e.newCandidate(data)
}

// finiteLoss clamps non-finite losses to the largest representable float,
// keeping comparisons intact while staying JSON-serializable.
func finiteLoss(loss float64) float64 {
	if math.IsNaN(loss) || math.IsInf(loss, 1) {
		return math.MaxFloat64
	}
	if math.IsInf(loss, -1) {
		return -math.MaxFloat64
	}
	return loss
}

// unsupportedTellNotAsked is embedded by methods that reject external
// point injection.
type unsupportedTellNotAsked struct{}

func (unsupportedTellNotAsked) TellNotAsked(*Candidate, float64) error {
	return ErrTellNotAskedNotSupported
}

// noSnapshot is embedded by methods wrapping external engines that cannot
// be serialized.
type noSnapshot struct{}

func (noSnapshot) Snapshot() (json.RawMessage, error) { return nil, ErrNotSerializable }
func (noSnapshot) Restore(json.RawMessage) error      { return ErrNotSerializable }
