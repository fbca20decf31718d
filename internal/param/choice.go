package param

import (
	"math"

	"github.com/cwbudde/blackbox/internal/randx"
)

// Choice is an unordered categorical parameter. Each option owns one weight
// coordinate in the standardized encoding and decoding picks the argmax, so
// the mapping is deterministic and any two options are equally distant.
type Choice struct {
	options []any
}

// NewChoice creates an unordered categorical parameter over the given
// options.
func NewChoice(options []any) *Choice {
	if len(options) == 0 {
		panic("param: choice needs at least one option")
	}
	return &Choice{options: append([]any(nil), options...)}
}

// Options returns the option values.
func (c *Choice) Options() []any { return c.options }

// Dimension implements Parameter.
func (c *Choice) Dimension() int { return len(c.options) }

// Kind implements Parameter.
func (c *Choice) Kind() Kind { return KindChoice }

// Sample implements Parameter: independent standard normals over the weight
// block, which makes the decoded option uniform across options.
func (c *Choice) Sample(rng *randx.State) []float64 {
	data := make([]float64, len(c.options))
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return data
}

// Value implements Parameter, returning the option with the largest weight.
func (c *Choice) Value(data []float64) any {
	return c.options[c.Index(data)]
}

// Index returns the decoded option index.
func (c *Choice) Index(data []float64) int {
	best := 0
	for i := 1; i < len(data); i++ {
		if data[i] > data[best] {
			best = i
		}
	}
	return best
}

func (c *Choice) fromUnit(u []float64) []float64 {
	data := make([]float64, len(u))
	for i := range u {
		data[i] = randx.NormQuantile(u[i])
	}
	return data
}

func (c *Choice) describe(d *Descriptor) {
	d.HasDiscrete = true
	if len(c.options) > d.Cardinality {
		d.Cardinality = len(c.options)
	}
}

// TransitionChoice is an ordered categorical parameter encoded on a single
// standardized coordinate: neighboring options stay close in the encoding,
// so local-search strategies move between adjacent options.
type TransitionChoice struct {
	options     []any
	repetitions int
}

// NewTransitionChoice creates an ordered categorical parameter.
func NewTransitionChoice(options []any) *TransitionChoice {
	if len(options) == 0 {
		panic("param: transition choice needs at least one option")
	}
	return &TransitionChoice{options: append([]any(nil), options...), repetitions: 1}
}

// IntRange is a convenience constructor for ordered integer options [0, n).
func IntRange(n int) *TransitionChoice {
	options := make([]any, n)
	for i := range options {
		options[i] = i
	}
	return NewTransitionChoice(options)
}

// WithRepetitions repeats the choice r times, one coordinate per repetition.
// Decoded values become []any of length r.
func (t *TransitionChoice) WithRepetitions(r int) *TransitionChoice {
	if r <= 0 {
		panic("param: repetitions must be positive")
	}
	t.repetitions = r
	return t
}

// Options returns the option values.
func (t *TransitionChoice) Options() []any { return t.options }

// Dimension implements Parameter.
func (t *TransitionChoice) Dimension() int { return t.repetitions }

// Kind implements Parameter.
func (t *TransitionChoice) Kind() Kind { return KindTransition }

// Sample implements Parameter.
func (t *TransitionChoice) Sample(rng *randx.State) []float64 {
	data := make([]float64, t.repetitions)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return data
}

// Value implements Parameter. Single-repetition choices decode to the bare
// option; repeated choices decode to a slice of options.
func (t *TransitionChoice) Value(data []float64) any {
	if t.repetitions == 1 {
		return t.options[t.index(data[0])]
	}
	out := make([]any, t.repetitions)
	for i := range out {
		out[i] = t.options[t.index(data[i])]
	}
	return out
}

// index maps one standardized coordinate to an option index through the
// normal CDF, so the standard prior is uniform over options.
func (t *TransitionChoice) index(x float64) int {
	u := 0.5 * math.Erfc(-x/math.Sqrt2)
	idx := int(math.Floor(u * float64(len(t.options))))
	if idx >= len(t.options) {
		idx = len(t.options) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func (t *TransitionChoice) fromUnit(u []float64) []float64 {
	data := make([]float64, len(u))
	for i := range u {
		data[i] = randx.NormQuantile(u[i])
	}
	return data
}

func (t *TransitionChoice) describe(d *Descriptor) {
	d.HasDiscrete = true
	d.HasTransitions = true
	if len(t.options) > d.Cardinality {
		d.Cardinality = len(t.options)
	}
}
