// Package param describes search spaces for derivative-free optimization.
//
// Every parameter maps between a problem-space value (scalar, vector,
// categorical choice, or a full args/kwargs instrumentation) and a
// standardized real-valued encoding that optimizers operate on. Decoding is
// deterministic: the same standardized vector always produces the same value.
package param

import (
	"fmt"

	"github.com/cwbudde/blackbox/internal/randx"
)

// Kind identifies the concrete type of a parameter.
type Kind string

const (
	KindArray           Kind = "array"
	KindScalar          Kind = "scalar"
	KindLog             Kind = "log"
	KindChoice          Kind = "choice"
	KindTransition      Kind = "transition"
	KindInstrumentation Kind = "instrumentation"
)

// Parameter is a node of the search-space description.
type Parameter interface {
	// Dimension is the length of the standardized encoding.
	Dimension() int

	// Sample draws a standardized vector from the parameter's prior.
	Sample(rng *randx.State) []float64

	// Value decodes a standardized vector into a problem-space value.
	// The slice must have exactly Dimension() entries.
	Value(data []float64) any

	// Kind reports the parameter type.
	Kind() Kind

	// describe accumulates shape information used by dispatchers.
	describe(d *Descriptor)

	// fromUnit maps a unit-cube point to standardized coordinates, used by
	// stratified and low-discrepancy samplers to cover the space evenly.
	fromUnit(u []float64) []float64
}

// Descriptor summarizes the shape of a search space. Algorithm dispatchers
// use it to pick a strategy, so it must be cheap and deterministic.
type Descriptor struct {
	// Dimension is the total standardized dimension.
	Dimension int `json:"dimension"`

	// FullyContinuous is true when no variable is discrete.
	FullyContinuous bool `json:"fullyContinuous"`

	// HasContinuous is true when at least one variable is continuous.
	HasContinuous bool `json:"hasContinuous"`

	// HasDiscrete is true when at least one variable is integer-cast or
	// categorical.
	HasDiscrete bool `json:"hasDiscrete"`

	// HasTransitions is true when an ordered-choice variable is present.
	HasTransitions bool `json:"hasTransitions"`

	// Cardinality is the largest option count among categorical variables,
	// zero when there are none.
	Cardinality int `json:"cardinality"`

	// Noisy is a caller-provided hint that evaluations are stochastic.
	Noisy bool `json:"noisy"`
}

// Constraint is a cheap feasibility predicate over decoded values.
type Constraint func(value any) bool

// Parametrization wraps a parameter tree with an explicit random generator
// and optional cheap constraints. The generator is owned by the instance;
// there is no package-level random state anywhere in this module.
type Parametrization struct {
	root        Parameter
	rng         *randx.State
	constraints []Constraint
	noisy       bool
}

// DefaultSeed is used when no explicit seed is set. A fixed default keeps
// runs reproducible out of the box.
const DefaultSeed int64 = 42

// New wraps a parameter tree into a parametrization with a default-seeded
// generator.
func New(root Parameter) *Parametrization {
	return &Parametrization{
		root: root,
		rng:  randx.New(DefaultSeed),
	}
}

// FromDimension builds an unbounded continuous parametrization of the given
// dimensionality. It backs the bare-int construction form of optimizers.
func FromDimension(n int) *Parametrization {
	return New(NewArray(n))
}

// Root returns the underlying parameter tree.
func (p *Parametrization) Root() Parameter { return p.root }

// Dimension returns the standardized dimension of the search space.
func (p *Parametrization) Dimension() int { return p.root.Dimension() }

// RNG exposes the parametrization's random generator.
func (p *Parametrization) RNG() *randx.State { return p.rng }

// SetSeed reseeds the random generator.
func (p *Parametrization) SetSeed(seed int64) { p.rng.Seed(seed) }

// SetNoisy records the hint that objective evaluations are stochastic.
func (p *Parametrization) SetNoisy(noisy bool) { p.noisy = noisy }

// Sample draws a standardized vector using the owned generator.
func (p *Parametrization) Sample() []float64 {
	return p.root.Sample(p.rng)
}

// Value decodes a standardized vector into a problem-space value.
func (p *Parametrization) Value(data []float64) (any, error) {
	if len(data) != p.Dimension() {
		return nil, fmt.Errorf("standardized data has length %d, expected %d", len(data), p.Dimension())
	}
	return p.root.Value(data), nil
}

// FromUnit maps a unit-cube point to standardized coordinates. Bounded
// variables cover their full range uniformly; unbounded ones go through the
// normal quantile, so the unit cube maps onto the sampling prior.
func (p *Parametrization) FromUnit(u []float64) ([]float64, error) {
	if len(u) != p.Dimension() {
		return nil, fmt.Errorf("unit point has length %d, expected %d", len(u), p.Dimension())
	}
	return p.root.fromUnit(u), nil
}

// Descriptor computes the shape summary of the search space.
func (p *Parametrization) Descriptor() Descriptor {
	d := Descriptor{Noisy: p.noisy}
	p.root.describe(&d)
	d.Dimension = p.root.Dimension()
	d.FullyContinuous = !d.HasDiscrete
	return d
}

// RegisterCheapConstraint adds a feasibility predicate evaluated on decoded
// values. Constraints must be cheap: optimizers resample against them on
// every ask.
func (p *Parametrization) RegisterCheapConstraint(c Constraint) {
	p.constraints = append(p.constraints, c)
}

// HasConstraints reports whether any cheap constraint is registered.
func (p *Parametrization) HasConstraints() bool { return len(p.constraints) > 0 }

// Satisfied checks all registered constraints against a decoded value.
func (p *Parametrization) Satisfied(value any) bool {
	for _, c := range p.constraints {
		if !c(value) {
			return false
		}
	}
	return true
}

// Groups partitions the search space for split optimization.
//
// An instrumentation splits into its positional and keyword parts; other
// roots split into up to n contiguous coordinate sections. Each group is an
// independent parametrization with its own generator, seeded from the parent
// stream so groups do not share random state. Constraints are not inherited:
// they apply to the full value, which no single group can decode.
func (p *Parametrization) Groups(n int) []*Parametrization {
	var parts []Parameter
	if inst, ok := p.root.(*Instrumentation); ok {
		parts = inst.parts()
	} else if arr, ok := p.root.(*Array); ok && n > 1 {
		parts = arr.split(n)
	} else {
		parts = []Parameter{p.root}
	}

	groups := make([]*Parametrization, len(parts))
	for i, part := range parts {
		g := New(part)
		g.SetSeed(int64(p.rng.Uint64() >> 1))
		g.noisy = p.noisy
		groups[i] = g
	}
	return groups
}
