package param

import (
	"math"

	"github.com/cwbudde/blackbox/internal/randx"
)

// Array is a real-valued vector parameter, optionally bounded and optionally
// cast to integers on decode. The standardized encoding is centered on the
// init vector and scaled by the mutation sigma.
type Array struct {
	size    int
	init    []float64
	sigma   float64
	lower   []float64 // nil when unbounded below
	upper   []float64 // nil when unbounded above
	integer bool
}

// NewArray creates an unbounded array of the given size, centered at zero
// with unit sigma.
func NewArray(size int) *Array {
	if size <= 0 {
		panic("param: array size must be positive")
	}
	return &Array{
		size:  size,
		init:  make([]float64, size),
		sigma: 1,
	}
}

// WithInit sets the center of the standardized encoding. The slice length
// must match the array size.
func (a *Array) WithInit(init []float64) *Array {
	if len(init) != a.size {
		panic("param: init length mismatch")
	}
	a.init = append([]float64(nil), init...)
	return a
}

// WithBounds sets uniform lower and upper bounds on every coordinate, and
// recenters the encoding on the bound midpoint when init was not set apart
// from zero outside the range.
func (a *Array) WithBounds(lower, upper float64) *Array {
	if upper <= lower {
		panic("param: upper bound must exceed lower bound")
	}
	a.lower = fill(a.size, lower)
	a.upper = fill(a.size, upper)
	for i := range a.init {
		if a.init[i] < lower || a.init[i] > upper {
			a.init[i] = (lower + upper) / 2
		}
	}
	return a
}

// WithSigma sets the mutation scale of the standardized encoding.
func (a *Array) WithSigma(sigma float64) *Array {
	if sigma <= 0 {
		panic("param: sigma must be positive")
	}
	a.sigma = sigma
	return a
}

// WithIntegerCasting makes decoded values round to the nearest integer.
func (a *Array) WithIntegerCasting() *Array {
	a.integer = true
	return a
}

// Dimension implements Parameter.
func (a *Array) Dimension() int { return a.size }

// Kind implements Parameter.
func (a *Array) Kind() Kind { return KindArray }

// Bounded reports whether the array carries bounds.
func (a *Array) Bounded() bool { return a.lower != nil && a.upper != nil }

// Sample implements Parameter. Bounded arrays sample uniformly across the
// full range; unbounded arrays sample standard normals around init.
func (a *Array) Sample(rng *randx.State) []float64 {
	data := make([]float64, a.size)
	for i := range data {
		if a.Bounded() {
			v := a.lower[i] + rng.Float64()*(a.upper[i]-a.lower[i])
			data[i] = (v - a.init[i]) / a.sigma
		} else {
			data[i] = rng.NormFloat64()
		}
	}
	return data
}

// Value implements Parameter, returning a []float64.
func (a *Array) Value(data []float64) any {
	return a.Decode(data)
}

// Decode maps a standardized vector to problem space, applying bounds
// clipping and integer casting.
func (a *Array) Decode(data []float64) []float64 {
	out := make([]float64, a.size)
	for i := range out {
		v := a.init[i] + a.sigma*data[i]
		if a.lower != nil && v < a.lower[i] {
			v = a.lower[i]
		}
		if a.upper != nil && v > a.upper[i] {
			v = a.upper[i]
		}
		if a.integer {
			v = math.Round(v)
		}
		out[i] = v
	}
	return out
}

// Encode maps a problem-space vector back to standardized coordinates.
func (a *Array) Encode(values []float64) []float64 {
	data := make([]float64, a.size)
	for i := range data {
		data[i] = (values[i] - a.init[i]) / a.sigma
	}
	return data
}

// fromUnit maps unit-cube coordinates across the bounds when present, and
// through the normal quantile otherwise.
func (a *Array) fromUnit(u []float64) []float64 {
	data := make([]float64, a.size)
	for i := range data {
		if a.Bounded() {
			v := a.lower[i] + u[i]*(a.upper[i]-a.lower[i])
			data[i] = (v - a.init[i]) / a.sigma
		} else {
			data[i] = randx.NormQuantile(u[i])
		}
	}
	return data
}

func (a *Array) describe(d *Descriptor) {
	if a.integer {
		d.HasDiscrete = true
	} else {
		d.HasContinuous = true
	}
}

// split partitions the array into n contiguous sections of near-equal size,
// preserving bounds, init, sigma and integer casting per coordinate.
func (a *Array) split(n int) []Parameter {
	if n > a.size {
		n = a.size
	}
	parts := make([]Parameter, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := a.size / n
		if i < a.size%n {
			size++
		}
		sub := &Array{
			size:    size,
			init:    append([]float64(nil), a.init[start:start+size]...),
			sigma:   a.sigma,
			integer: a.integer,
		}
		if a.Bounded() {
			sub.lower = append([]float64(nil), a.lower[start:start+size]...)
			sub.upper = append([]float64(nil), a.upper[start:start+size]...)
		}
		parts = append(parts, sub)
		start += size
	}
	return parts
}

// Scalar is a single real-valued parameter. It decodes to a float64 rather
// than a one-element slice.
type Scalar struct {
	Array
}

// NewScalar creates an unbounded scalar centered at zero.
func NewScalar() *Scalar {
	s := &Scalar{}
	s.size = 1
	s.init = []float64{0}
	s.sigma = 1
	return s
}

// WithInit sets the scalar center.
func (s *Scalar) WithInit(init float64) *Scalar {
	s.init[0] = init
	return s
}

// WithBounds bounds the scalar and recenters on the midpoint when needed.
func (s *Scalar) WithBounds(lower, upper float64) *Scalar {
	s.Array.WithBounds(lower, upper)
	return s
}

// WithSigma sets the mutation scale.
func (s *Scalar) WithSigma(sigma float64) *Scalar {
	s.Array.WithSigma(sigma)
	return s
}

// WithIntegerCasting makes the scalar decode to whole values.
func (s *Scalar) WithIntegerCasting() *Scalar {
	s.integer = true
	return s
}

// Kind implements Parameter.
func (s *Scalar) Kind() Kind { return KindScalar }

// Value implements Parameter, returning a float64.
func (s *Scalar) Value(data []float64) any {
	return s.Decode(data)[0]
}

// Log is a positive scalar sampled and mutated in exponent space, for
// quantities like learning rates spanning orders of magnitude.
type Log struct {
	lower   float64
	upper   float64
	integer bool
}

// NewLog creates a log-distributed scalar on [lower, upper]. Both bounds
// must be positive.
func NewLog(lower, upper float64) *Log {
	if lower <= 0 || upper <= lower {
		panic("param: log bounds must satisfy 0 < lower < upper")
	}
	return &Log{lower: lower, upper: upper}
}

// WithIntegerCasting makes decoded values round to the nearest integer.
func (l *Log) WithIntegerCasting() *Log {
	l.integer = true
	return l
}

// Dimension implements Parameter.
func (l *Log) Dimension() int { return 1 }

// Kind implements Parameter.
func (l *Log) Kind() Kind { return KindLog }

// Sample implements Parameter: uniform in exponent space, expressed in the
// standardized [-3, 3] span that Value maps back across the range.
func (l *Log) Sample(rng *randx.State) []float64 {
	return []float64{(rng.Float64()*2 - 1) * 3}
}

// Value implements Parameter, returning a float64.
func (l *Log) Value(data []float64) any {
	lo, hi := math.Log(l.lower), math.Log(l.upper)
	mid := (lo + hi) / 2
	scale := (hi - lo) / 6 // three sigmas on each side cover the range
	x := mid + scale*data[0]
	if x < lo {
		x = lo
	}
	if x > hi {
		x = hi
	}
	v := math.Exp(x)
	if l.integer {
		v = math.Round(v)
		if v < l.lower {
			v = math.Ceil(l.lower)
		}
	}
	return v
}

// fromUnit spreads unit coordinates across the standardized span that
// Value maps onto the full exponent range.
func (l *Log) fromUnit(u []float64) []float64 {
	return []float64{(u[0]*2 - 1) * 3}
}

func (l *Log) describe(d *Descriptor) {
	if l.integer {
		d.HasDiscrete = true
	} else {
		d.HasContinuous = true
	}
}

func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
