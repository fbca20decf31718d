package opt

import (
	"sort"
	"sync"
)

// Factory builds a method for a concrete problem environment.
type Factory func(env *Env) (Method, error)

// Registration describes one strategy in the registry.
type Registration struct {
	// Name is the registry key.
	Name string

	// Factory builds the method.
	Factory Factory

	// OneShot marks strategies producing pre-planned point sequences
	// independent of feedback.
	OneShot bool

	// Recast marks strategies wrapping a sequential external engine.
	Recast bool

	// NoParallelization makes construction with numWorkers > 1 fail.
	NoParallelization bool
}

// The registry is populated at process initialization and read-only
// afterwards. A mutex still guards it so late test registrations stay safe.
var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register adds a strategy to the registry. Registering a duplicate name
// panics: names are the persistent identity used by baselines and dumps.
func Register(r Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[r.Name]; exists {
		panic("opt: duplicate strategy registration: " + r.Name)
	}
	registry[r.Name] = r
}

// lookup fetches a registration by name.
func lookup(name string) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[name]
	return r, ok
}

// Strategies returns all registered strategy names, sorted.
func Strategies() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the registration for a strategy name.
func Describe(name string) (Registration, bool) {
	return lookup(name)
}

// Strategies tolerated to return non-finite or degraded recommendations on
// pathological objectives. This encodes accumulated empirical tolerance, not
// a principled rule; it is configurable precisely because the policy is
// still an open product question.
var (
	lenientMu sync.RWMutex
	lenient   = map[string]bool{
		"TBPSA":     true,
		"PSO":       true,
		"Portfolio": true,
		"NGOpt":     true,
		"Chaining":  true,
		"CMA":       true,
	}
)

// SetLenientStrategies replaces the NaN/Inf-tolerance allowlist.
func SetLenientStrategies(names []string) {
	lenientMu.Lock()
	defer lenientMu.Unlock()
	lenient = make(map[string]bool, len(names))
	for _, n := range names {
		lenient[n] = true
	}
}

// IsLenient reports whether a strategy is on the tolerance allowlist.
func IsLenient(name string) bool {
	lenientMu.RLock()
	defer lenientMu.RUnlock()
	return lenient[name]
}
