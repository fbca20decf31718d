package param

import (
	"math"
	"testing"

	"github.com/cwbudde/blackbox/internal/randx"
)

func TestFromDimension(t *testing.T) {
	p := FromDimension(5)

	if p.Dimension() != 5 {
		t.Fatalf("Expected dimension 5, got %d", p.Dimension())
	}

	d := p.Descriptor()
	if !d.FullyContinuous || d.HasDiscrete {
		t.Errorf("Bare array should be fully continuous: %+v", d)
	}
}

func TestArrayDecodeUnbounded(t *testing.T) {
	a := NewArray(3).WithInit([]float64{1, 2, 3}).WithSigma(2)

	values := a.Decode([]float64{0, 1, -1})
	expected := []float64{1, 4, 1}
	for i := range expected {
		if values[i] != expected[i] {
			t.Errorf("Coordinate %d: got %v, want %v", i, values[i], expected[i])
		}
	}
}

func TestArrayEncodeDecodeRoundTrip(t *testing.T) {
	a := NewArray(4).WithInit([]float64{0.5, -0.5, 2, -2}).WithSigma(3)

	values := []float64{1.25, -7, 0, 4.5}
	decoded := a.Decode(a.Encode(values))
	for i := range values {
		if math.Abs(decoded[i]-values[i]) > 1e-12 {
			t.Errorf("Coordinate %d: round trip %v -> %v", i, values[i], decoded[i])
		}
	}
}

func TestArrayBoundsClipping(t *testing.T) {
	a := NewArray(2).WithBounds(-1, 1)

	values := a.Decode([]float64{100, -100})
	if values[0] != 1 || values[1] != -1 {
		t.Errorf("Expected clipping to [-1, 1], got %v", values)
	}
}

func TestArrayIntegerCasting(t *testing.T) {
	a := NewArray(2).WithIntegerCasting()

	values := a.Decode([]float64{1.4, -2.6})
	if values[0] != 1 || values[1] != -3 {
		t.Errorf("Expected rounded values [1 -3], got %v", values)
	}

	d := Descriptor{}
	a.describe(&d)
	if !d.HasDiscrete {
		t.Error("Integer-cast array should report discrete variables")
	}
}

func TestBoundedArraySamplesFullRange(t *testing.T) {
	// A bounded scalar with unit sigma must still sample uniformly across
	// the whole range, not just near the center.
	p := New(NewScalar().WithBounds(-100, 100).WithSigma(1))
	p.SetSeed(12)

	above50 := 0
	for i := 0; i < 100; i++ {
		v := p.Root().Value(p.Sample()).(float64)
		if math.Abs(v) > 50 {
			above50++
		}
	}
	if above50 < 20 {
		t.Errorf("Expected roughly half the samples beyond |50|, got %d/100", above50)
	}
}

func TestScalarValue(t *testing.T) {
	s := NewScalar().WithInit(10).WithSigma(0.5)

	v, ok := s.Value([]float64{2}).(float64)
	if !ok {
		t.Fatal("Scalar should decode to float64")
	}
	if v != 11 {
		t.Errorf("Expected 11, got %v", v)
	}
}

func TestLogValueStaysInRange(t *testing.T) {
	l := NewLog(1, 1000)

	for _, x := range []float64{-100, -3, 0, 3, 100} {
		v := l.Value([]float64{x}).(float64)
		if v < 1 || v > 1000 {
			t.Errorf("Log value for data %v out of range: %v", x, v)
		}
	}

	// Center of the encoding should be the geometric midpoint
	mid := l.Value([]float64{0}).(float64)
	if math.Abs(mid-math.Sqrt(1000)) > 1e-9 {
		t.Errorf("Expected geometric midpoint %.4f, got %v", math.Sqrt(1000), mid)
	}
}

func TestLogIntegerCasting(t *testing.T) {
	l := NewLog(1, 1000).WithIntegerCasting()

	v := l.Value([]float64{0.1}).(float64)
	if v != math.Round(v) {
		t.Errorf("Expected integer value, got %v", v)
	}
	if v < 1 {
		t.Errorf("Integer casting must not leave the range: %v", v)
	}
}

func TestChoiceDecodeIsArgmax(t *testing.T) {
	c := NewChoice([]any{"a", "b", "c"})

	if got := c.Value([]float64{0, 2, 1}); got != "b" {
		t.Errorf("Expected option b, got %v", got)
	}
	if got := c.Value([]float64{3, 2, 1}); got != "a" {
		t.Errorf("Expected option a, got %v", got)
	}
}

func TestChoiceSamplingUniform(t *testing.T) {
	c := NewChoice([]any{0, 1, 2, 3})
	rng := randx.New(7)

	counts := make(map[any]int)
	for i := 0; i < 4000; i++ {
		counts[c.Value(c.Sample(rng))]++
	}
	for opt, n := range counts {
		if n < 700 || n > 1300 {
			t.Errorf("Option %v drawn %d times out of 4000", opt, n)
		}
	}
}

func TestTransitionChoiceOrdering(t *testing.T) {
	tc := IntRange(10)

	// Monotone: larger standardized values map to later options
	prev := -1
	for _, x := range []float64{-3, -1, 0, 1, 3} {
		idx := tc.Value([]float64{x}).(int)
		if idx < prev {
			t.Fatalf("Decoded index decreased: %d after %d", idx, prev)
		}
		prev = idx
	}

	d := Descriptor{}
	tc.describe(&d)
	if !d.HasTransitions || d.Cardinality != 10 {
		t.Errorf("Unexpected descriptor: %+v", d)
	}
}

func TestTransitionChoiceRepetitions(t *testing.T) {
	tc := IntRange(5).WithRepetitions(3)

	if tc.Dimension() != 3 {
		t.Fatalf("Expected dimension 3, got %d", tc.Dimension())
	}
	values, ok := tc.Value([]float64{-3, 0, 3}).([]any)
	if !ok || len(values) != 3 {
		t.Fatalf("Expected 3 decoded options, got %v", values)
	}
}

func TestInstrumentationLayout(t *testing.T) {
	in := NewInstrumentation(NewArray(2)).
		WithKwarg("y", NewScalar()).
		WithKwarg("arch", NewChoice([]any{"conv", "fc"}))

	// 2 (array) + 2 (choice "arch") + 1 (scalar "y"), kwargs sorted by key
	if in.Dimension() != 5 {
		t.Fatalf("Expected dimension 5, got %d", in.Dimension())
	}

	call, ok := in.Value([]float64{1, 2, 5, 0, 3}).(*Call)
	if !ok {
		t.Fatal("Instrumentation should decode to *Call")
	}
	if len(call.Args) != 1 {
		t.Fatalf("Expected 1 positional arg, got %d", len(call.Args))
	}
	arr := call.Args[0].([]float64)
	if arr[0] != 1 || arr[1] != 2 {
		t.Errorf("Unexpected array value: %v", arr)
	}
	if call.Kwargs["arch"] != "conv" {
		t.Errorf("Expected arch=conv, got %v", call.Kwargs["arch"])
	}
	if call.Kwargs["y"].(float64) != 3 {
		t.Errorf("Expected y=3, got %v", call.Kwargs["y"])
	}
}

func TestDescriptorMixedSpace(t *testing.T) {
	in := NewInstrumentation().
		WithKwarg("lr", NewLog(0.001, 1)).
		WithKwarg("batch", NewScalar().WithBounds(1, 12).WithIntegerCasting()).
		WithKwarg("arch", NewChoice([]any{"conv", "fc"}))
	p := New(in)

	d := p.Descriptor()
	if d.FullyContinuous {
		t.Error("Mixed space should not be fully continuous")
	}
	if !d.HasContinuous || !d.HasDiscrete {
		t.Errorf("Mixed space should have both kinds: %+v", d)
	}
	if d.Cardinality != 2 {
		t.Errorf("Expected cardinality 2, got %d", d.Cardinality)
	}
}

func TestReproducibleSampling(t *testing.T) {
	build := func() *Parametrization {
		p := New(NewInstrumentation(NewArray(3)).WithKwarg("c", NewChoice([]any{1, 2, 3})))
		p.SetSeed(12)
		return p
	}
	a, b := build(), build()

	for i := 0; i < 50; i++ {
		sa, sb := a.Sample(), b.Sample()
		for j := range sa {
			if sa[j] != sb[j] {
				t.Fatalf("Sample %d coordinate %d diverged", i, j)
			}
		}
	}
}

func TestCheapConstraints(t *testing.T) {
	p := New(NewScalar())
	if p.HasConstraints() {
		t.Fatal("No constraints registered yet")
	}

	p.RegisterCheapConstraint(func(v any) bool { return v.(float64) >= 0 })
	if !p.HasConstraints() {
		t.Fatal("Constraint registration not recorded")
	}
	if p.Satisfied(-1.0) {
		t.Error("Negative value should violate the constraint")
	}
	if !p.Satisfied(1.0) {
		t.Error("Positive value should satisfy the constraint")
	}
}

func TestGroupsFromInstrumentation(t *testing.T) {
	in := NewInstrumentation(NewArray(2)).WithKwarg("y", NewScalar())
	p := New(in)

	groups := p.Groups(0)
	if len(groups) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(groups))
	}
	if groups[0].Dimension() != 2 || groups[1].Dimension() != 1 {
		t.Errorf("Unexpected group dimensions: %d, %d", groups[0].Dimension(), groups[1].Dimension())
	}
}

func TestGroupsSplitArray(t *testing.T) {
	p := FromDimension(7)

	groups := p.Groups(3)
	if len(groups) != 3 {
		t.Fatalf("Expected 3 groups, got %d", len(groups))
	}
	total := 0
	for _, g := range groups {
		total += g.Dimension()
	}
	if total != 7 {
		t.Errorf("Group dimensions should sum to 7, got %d", total)
	}
	// Remainder goes to the earliest sections
	if groups[0].Dimension() != 3 || groups[1].Dimension() != 2 || groups[2].Dimension() != 2 {
		t.Errorf("Unexpected split: %d/%d/%d", groups[0].Dimension(), groups[1].Dimension(), groups[2].Dimension())
	}
}

func TestValueDimensionMismatch(t *testing.T) {
	p := FromDimension(3)

	if _, err := p.Value([]float64{1, 2}); err == nil {
		t.Fatal("Expected error for mismatched data length")
	}
}
