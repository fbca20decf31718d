package opt

import (
	"errors"
	"fmt"
)

// ErrTellNotAskedNotSupported is returned by Tell when the underlying
// strategy cannot mathematically incorporate a point it did not produce.
// Use errors.Is(err, ErrTellNotAskedNotSupported) to check for it.
var ErrTellNotAskedNotSupported = errors.New("strategy does not support telling unasked candidates")

// ErrNotSerializable is returned by Dump for strategies wrapping external
// engines whose state cannot be captured (recast strategies). This is a
// documented limitation, not a bug.
var ErrNotSerializable = errors.New("strategy state cannot be serialized")

// ConfigurationError reports an invalid optimizer configuration. These are
// raised at construction or at the offending call, never deferred.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Field + " " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool {
	_, ok := target.(*ConfigurationError)
	return ok
}

// BudgetWarning is an advisory raised when Ask is called past the configured
// budget. It is logged, never returned: over-asking is tolerated and the
// optimizer state stays consistent, but it signals a caller driving the loop
// incorrectly.
type BudgetWarning struct {
	NumAsk int
	Budget int
}

func (w *BudgetWarning) Error() string {
	return fmt.Sprintf("ask %d exceeds budget %d", w.NumAsk+1, w.Budget)
}

// UnknownStrategyError reports a strategy name absent from the registry.
type UnknownStrategyError struct {
	Name string
}

func (e *UnknownStrategyError) Error() string {
	return "unknown strategy: " + e.Name
}

func (e *UnknownStrategyError) Is(target error) bool {
	_, ok := target.(*UnknownStrategyError)
	return ok
}
