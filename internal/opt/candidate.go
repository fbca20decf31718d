package opt

import (
	"github.com/google/uuid"
)

// Candidate is a point proposed by an optimizer (or injected externally),
// carrying both its standardized encoding and its decoded problem-space
// value. Once told, the observed loss is attached and the candidate should
// be treated as immutable.
type Candidate struct {
	// UID uniquely identifies the candidate across the optimizer's lifetime.
	UID string `json:"uid"`

	// Data is the standardized real-valued encoding.
	Data []float64 `json:"data"`

	// Value is the decoded problem-space value: []float64 for arrays,
	// float64 for scalars, the chosen option for choices, *param.Call for
	// instrumentations.
	Value any `json:"-"`

	// Generation is the ask count at creation time (0 for external points).
	Generation int `json:"generation"`

	// Origin names the strategy that produced the candidate; empty for
	// externally injected points. Combinators use it to route tells.
	Origin string `json:"origin,omitempty"`

	// Loss is the folded scalar loss, set at tell time.
	Loss *float64 `json:"loss,omitempty"`

	// Losses holds the raw multi-objective vector when one was told.
	Losses []float64 `json:"losses,omitempty"`
}

// Told reports whether a loss has been attached.
func (c *Candidate) Told() bool { return c.Loss != nil }

func newUID() string { return uuid.New().String() }

// candidateState is the serialized form used in snapshots.
type candidateState struct {
	UID        string    `json:"uid"`
	Data       []float64 `json:"data"`
	Generation int       `json:"generation"`
	Origin     string    `json:"origin,omitempty"`
	Loss       *float64  `json:"loss,omitempty"`
	Losses     []float64 `json:"losses,omitempty"`
}

func (c *Candidate) state() candidateState {
	return candidateState{
		UID:        c.UID,
		Data:       c.Data,
		Generation: c.Generation,
		Origin:     c.Origin,
		Loss:       c.Loss,
		Losses:     c.Losses,
	}
}
