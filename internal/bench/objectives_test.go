package bench

import (
	"errors"
	"math"
	"testing"
)

func TestObjectivesRegistered(t *testing.T) {
	want := []string{"buggy", "ellipsoid", "offset-sphere", "rosenbrock", "sphere"}
	got := Objectives()
	if len(got) != len(want) {
		t.Fatalf("Expected %d objectives, got %v", len(want), got)
	}
	for i, name := range want {
		if got[i] != name {
			t.Errorf("Expected %s at position %d, got %s", name, i, got[i])
		}
	}
}

func TestLookupObjectiveUnknown(t *testing.T) {
	_, err := LookupObjective("nonexistent")
	if err == nil {
		t.Fatal("Expected error for unknown objective")
	}
	var unknown *UnknownObjectiveError
	if !errors.As(err, &unknown) {
		t.Errorf("Expected UnknownObjectiveError, got %T: %v", err, err)
	}
}

func TestSphereMinimum(t *testing.T) {
	obj, err := LookupObjective("sphere")
	if err != nil {
		t.Fatal(err)
	}
	if got := obj.Eval([]float64{0, 0, 0}); got != 0 {
		t.Errorf("Expected 0 at origin, got %f", got)
	}
	if got := obj.Eval([]float64{1, 2}); got != 5 {
		t.Errorf("Expected 5 at (1,2), got %f", got)
	}
}

func TestOffsetSphereMinimum(t *testing.T) {
	obj, err := LookupObjective("offset-sphere")
	if err != nil {
		t.Fatal(err)
	}
	if got := obj.Eval([]float64{0.5, 0.5}); got != 0 {
		t.Errorf("Expected 0 at the shifted optimum, got %f", got)
	}
	if got := obj.Eval([]float64{0, 0}); got != 0.5 {
		t.Errorf("Expected 0.5 at origin, got %f", got)
	}
}

func TestRosenbrockMinimum(t *testing.T) {
	obj, err := LookupObjective("rosenbrock")
	if err != nil {
		t.Fatal(err)
	}
	if got := obj.Eval([]float64{1, 1, 1}); got != 0 {
		t.Errorf("Expected 0 at all-ones, got %f", got)
	}
	if got := obj.Eval([]float64{0, 0}); got != 1 {
		t.Errorf("Expected 1 at origin in 2d, got %f", got)
	}
	// One-dimensional degenerate case
	if got := obj.Eval([]float64{1}); got != 0 {
		t.Errorf("Expected 0 at x=1 in 1d, got %f", got)
	}
}

func TestEllipsoidConditioning(t *testing.T) {
	obj, err := LookupObjective("ellipsoid")
	if err != nil {
		t.Fatal(err)
	}
	// Last axis weighted 1e6 relative to first
	first := obj.Eval([]float64{1, 0, 0})
	last := obj.Eval([]float64{0, 0, 1})
	if first != 1 {
		t.Errorf("Expected weight 1 on first axis, got %f", first)
	}
	if math.Abs(last-1e6) > 1 {
		t.Errorf("Expected weight 1e6 on last axis, got %f", last)
	}
}

func TestBuggyObjectiveRegions(t *testing.T) {
	obj, err := LookupObjective("buggy")
	if err != nil {
		t.Fatal(err)
	}
	if got := obj.Eval([]float64{2, 0}); !math.IsNaN(got) {
		t.Errorf("Expected NaN for x[0] > 1, got %f", got)
	}
	if got := obj.Eval([]float64{-2, 0}); !math.IsInf(got, 1) {
		t.Errorf("Expected +Inf for x[0] < -1, got %f", got)
	}
	if got := obj.Eval([]float64{0.5, 0.5}); got != 0.5 {
		t.Errorf("Expected 0.5 in the finite region, got %f", got)
	}
}
