// Package bench provides standard test objectives and a runner that drives
// an optimizer against them, with convergence tracking, trace recording and
// periodic checkpointing.
package bench

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Objective is a named test function over a continuous search space.
type Objective struct {
	// Name identifies the objective in the registry.
	Name string

	// Optimum is the loss at the global minimum, used by regression checks.
	Optimum float64

	// Eval computes the loss for a point. It must be safe for concurrent
	// calls.
	Eval func(x []float64) float64
}

var (
	objectivesMu sync.RWMutex
	objectives   = make(map[string]Objective)
)

// RegisterObjective adds an objective to the registry. Registration happens
// at init time; duplicate names panic.
func RegisterObjective(obj Objective) {
	objectivesMu.Lock()
	defer objectivesMu.Unlock()
	if _, exists := objectives[obj.Name]; exists {
		panic(fmt.Sprintf("bench: duplicate objective %q", obj.Name))
	}
	objectives[obj.Name] = obj
}

// LookupObjective returns the named objective.
func LookupObjective(name string) (Objective, error) {
	objectivesMu.RLock()
	defer objectivesMu.RUnlock()
	obj, ok := objectives[name]
	if !ok {
		return Objective{}, &UnknownObjectiveError{Name: name}
	}
	return obj, nil
}

// Objectives returns the registered objective names in sorted order.
func Objectives() []string {
	objectivesMu.RLock()
	defer objectivesMu.RUnlock()
	names := make([]string, 0, len(objectives))
	for name := range objectives {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownObjectiveError is returned when an objective name is not registered.
type UnknownObjectiveError struct {
	Name string
}

func (e *UnknownObjectiveError) Error() string {
	return fmt.Sprintf("unknown objective %q (available: %v)", e.Name, Objectives())
}

func init() {
	RegisterObjective(Objective{
		Name: "sphere",
		Eval: func(x []float64) float64 {
			var sum float64
			for _, v := range x {
				sum += v * v
			}
			return sum
		},
	})

	// Sphere shifted away from the origin, so strategies cannot win by
	// recommending their starting center.
	RegisterObjective(Objective{
		Name: "offset-sphere",
		Eval: func(x []float64) float64 {
			var sum float64
			for _, v := range x {
				d := v - 0.5
				sum += d * d
			}
			return sum
		},
	})

	RegisterObjective(Objective{
		Name:    "rosenbrock",
		Optimum: 0,
		Eval: func(x []float64) float64 {
			if len(x) < 2 {
				d := x[0] - 1
				return d * d
			}
			var sum float64
			for i := 0; i < len(x)-1; i++ {
				a := x[i+1] - x[i]*x[i]
				b := 1 - x[i]
				sum += 100*a*a + b*b
			}
			return sum
		},
	})

	// Ill-conditioned quadratic, condition number 1e6.
	RegisterObjective(Objective{
		Name: "ellipsoid",
		Eval: func(x []float64) float64 {
			n := len(x)
			var sum float64
			for i, v := range x {
				exp := 0.0
				if n > 1 {
					exp = 6 * float64(i) / float64(n-1)
				}
				sum += math.Pow(10, exp) * v * v
			}
			return sum
		},
	})

	// Deterministically misbehaving function for loss-tolerance tests: NaN
	// on one side of the space, +Inf on the other, a plain sphere between.
	RegisterObjective(Objective{
		Name: "buggy",
		Eval: func(x []float64) float64 {
			if x[0] > 1 {
				return math.NaN()
			}
			if x[0] < -1 {
				return math.Inf(1)
			}
			var sum float64
			for _, v := range x {
				sum += v * v
			}
			return sum
		},
	})
}
