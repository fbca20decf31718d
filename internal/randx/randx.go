// Package randx provides a small random generator with fully exportable
// state, so optimizer runs can be checkpointed and resumed deterministically.
// The stdlib generators do not expose their state, which makes them unusable
// for dump/load round-trips.
package randx

import (
	"encoding/json"
	"fmt"
	"math"
)

// State is a splitmix64-based generator. The zero value is not usable;
// create instances with New.
//
// State serializes to JSON and restores to an identical stream position.
// It is not safe for concurrent use; each owner keeps its own instance.
type State struct {
	s     uint64
	spare float64 // cached second Box-Muller normal
	has   bool
}

// New creates a generator seeded with the given value.
func New(seed int64) *State {
	return &State{s: uint64(seed)}
}

// Seed resets the generator to the given seed, discarding any cached state.
func (r *State) Seed(seed int64) {
	r.s = uint64(seed)
	r.spare = 0
	r.has = false
}

// Uint64 returns the next 64 random bits (splitmix64 step).
func (r *State) Uint64() uint64 {
	r.s += 0x9e3779b97f4a7c15
	z := r.s
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Float64 returns a uniform value in [0, 1).
func (r *State) Float64() float64 {
	return float64(r.Uint64()>>11) / (1 << 53)
}

// Intn returns a uniform value in [0, n). It panics if n <= 0.
func (r *State) Intn(n int) int {
	if n <= 0 {
		panic("randx: Intn with non-positive n")
	}
	// Rejection sampling to avoid modulo bias.
	max := uint64(n)
	limit := math.MaxUint64 - math.MaxUint64%max
	for {
		v := r.Uint64()
		if v < limit {
			return int(v % max)
		}
	}
}

// NormFloat64 returns a standard normal value (Box-Muller, with caching).
func (r *State) NormFloat64() float64 {
	if r.has {
		r.has = false
		return r.spare
	}
	var u1 float64
	for u1 == 0 {
		u1 = r.Float64()
	}
	u2 := r.Float64()
	radius := math.Sqrt(-2 * math.Log(u1))
	theta := 2 * math.Pi * u2
	r.spare = radius * math.Sin(theta)
	r.has = true
	return radius * math.Cos(theta)
}

// CauchyFloat64 returns a standard Cauchy value.
func (r *State) CauchyFloat64() float64 {
	return math.Tan(math.Pi * (r.Float64() - 0.5))
}

// Perm returns a random permutation of [0, n).
func (r *State) Perm(n int) []int {
	p := make([]int, n)
	for i := range p {
		j := r.Intn(i + 1)
		p[i] = p[j]
		p[j] = i
	}
	return p
}

// Shuffle randomizes the order of n elements using the provided swap function.
func (r *State) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		swap(i, r.Intn(i+1))
	}
}

type stateJSON struct {
	S     uint64  `json:"s"`
	Spare float64 `json:"spare"`
	Has   bool    `json:"has"`
}

// MarshalJSON serializes the full generator state.
func (r *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateJSON{S: r.s, Spare: r.spare, Has: r.has})
}

// UnmarshalJSON restores the generator to a previously serialized state.
func (r *State) UnmarshalJSON(data []byte) error {
	var st stateJSON
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to restore random state: %w", err)
	}
	r.s = st.S
	r.spare = st.Spare
	r.has = st.Has
	return nil
}
