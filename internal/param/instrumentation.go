package param

import (
	"sort"

	"github.com/cwbudde/blackbox/internal/randx"
)

// Call is the decoded value of an Instrumentation: positional arguments
// followed by keyword arguments.
type Call struct {
	Args   []any
	Kwargs map[string]any
}

// Instrumentation composes positional and keyword sub-parameters into one
// search space. The standardized encoding is the concatenation of the
// positional blocks in order, then the keyword blocks in sorted key order.
type Instrumentation struct {
	args   []Parameter
	keys   []string // sorted
	kwargs map[string]Parameter
}

// NewInstrumentation creates an instrumentation over positional parameters.
// Keyword parameters are added with WithKwarg.
func NewInstrumentation(args ...Parameter) *Instrumentation {
	return &Instrumentation{
		args:   args,
		kwargs: make(map[string]Parameter),
	}
}

// WithKwarg registers a keyword parameter. Keys are kept in sorted order so
// the encoding layout is deterministic.
func (in *Instrumentation) WithKwarg(key string, p Parameter) *Instrumentation {
	if _, exists := in.kwargs[key]; !exists {
		in.keys = append(in.keys, key)
		sort.Strings(in.keys)
	}
	in.kwargs[key] = p
	return in
}

// Dimension implements Parameter.
func (in *Instrumentation) Dimension() int {
	total := 0
	for _, p := range in.parts() {
		total += p.Dimension()
	}
	return total
}

// Kind implements Parameter.
func (in *Instrumentation) Kind() Kind { return KindInstrumentation }

// Sample implements Parameter.
func (in *Instrumentation) Sample(rng *randx.State) []float64 {
	data := make([]float64, 0, in.Dimension())
	for _, p := range in.parts() {
		data = append(data, p.Sample(rng)...)
	}
	return data
}

// Value implements Parameter, returning a *Call.
func (in *Instrumentation) Value(data []float64) any {
	call := &Call{Kwargs: make(map[string]any)}
	offset := 0
	for _, p := range in.args {
		call.Args = append(call.Args, p.Value(data[offset:offset+p.Dimension()]))
		offset += p.Dimension()
	}
	for _, key := range in.keys {
		p := in.kwargs[key]
		call.Kwargs[key] = p.Value(data[offset : offset+p.Dimension()])
		offset += p.Dimension()
	}
	return call
}

func (in *Instrumentation) fromUnit(u []float64) []float64 {
	data := make([]float64, 0, len(u))
	offset := 0
	for _, p := range in.parts() {
		data = append(data, p.fromUnit(u[offset:offset+p.Dimension()])...)
		offset += p.Dimension()
	}
	return data
}

func (in *Instrumentation) describe(d *Descriptor) {
	for _, p := range in.parts() {
		p.describe(d)
	}
}

// parts returns the sub-parameters in encoding order.
func (in *Instrumentation) parts() []Parameter {
	parts := make([]Parameter, 0, len(in.args)+len(in.keys))
	parts = append(parts, in.args...)
	for _, key := range in.keys {
		parts = append(parts, in.kwargs[key])
	}
	return parts
}
