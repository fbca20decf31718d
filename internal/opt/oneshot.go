package opt

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/cwbudde/blackbox/internal/randx"
)

// One-shot strategies produce pre-planned point sequences independent of
// intermediate feedback. Tells only feed the shared archive, so all of
// them accept unasked points trivially.

func init() {
	Register(Registration{
		Name:    "RandomSearch",
		OneShot: true,
		Factory: func(env *Env) (Method, error) {
			return &randomSearch{env: env}, nil
		},
	})
	Register(Registration{
		Name:    "CauchyRandomSearch",
		OneShot: true,
		Factory: func(env *Env) (Method, error) {
			return &randomSearch{env: env, cauchy: true}, nil
		},
	})
	Register(Registration{
		Name:    "LHSSearch",
		OneShot: true,
		Factory: func(env *Env) (Method, error) {
			return &lhsSearch{env: env}, nil
		},
	})
	Register(Registration{
		Name:    "HaltonSearch",
		OneShot: true,
		Factory: func(env *Env) (Method, error) {
			return &haltonSearch{env: env}, nil
		},
	})
	Register(Registration{
		Name:    "MetaRecentering",
		OneShot: true,
		Factory: func(env *Env) (Method, error) {
			return newMetaRecentering(env), nil
		},
	})
}

// randomSearch samples the parametrization prior, optionally with
// heavy-tailed Cauchy steps on every coordinate.
type randomSearch struct {
	env    *Env
	cauchy bool
}

func (m *randomSearch) Ask() (*Candidate, error) {
	if m.cauchy {
		data := make([]float64, m.env.Dimension())
		for i := range data {
			data[i] = m.env.RNG().CauchyFloat64()
		}
		return m.env.NewCandidate(data), nil
	}
	return m.env.NewCandidate(m.env.Param.Sample()), nil
}

func (m *randomSearch) Tell(*Candidate, float64)               {}
func (m *randomSearch) TellNotAsked(*Candidate, float64) error { return nil }
func (m *randomSearch) Snapshot() (json.RawMessage, error)     { return json.Marshal(struct{}{}) }
func (m *randomSearch) Restore(json.RawMessage) error          { return nil }

// lhsSearch is Latin hypercube sampling: the budget is cut into strata per
// coordinate and a random permutation assigns one stratum per coordinate to
// each ask, guaranteeing even marginal coverage.
type lhsSearch struct {
	env   *Env
	perms [][]int // one permutation of [0, budget) per coordinate
	count int
}

func (m *lhsSearch) Ask() (*Candidate, error) {
	if m.perms == nil {
		m.perms = make([][]int, m.env.Dimension())
		for d := range m.perms {
			m.perms[d] = m.env.RNG().Perm(m.env.Budget)
		}
	}

	// Asks past the planned budget reuse strata cyclically.
	k := m.count % m.env.Budget
	m.count++

	u := make([]float64, m.env.Dimension())
	for d := range u {
		u[d] = (float64(m.perms[d][k]) + m.env.RNG().Float64()) / float64(m.env.Budget)
	}
	data, err := m.env.Param.FromUnit(u)
	if err != nil {
		return nil, err
	}
	return m.env.NewCandidate(data), nil
}

func (m *lhsSearch) Tell(*Candidate, float64)               {}
func (m *lhsSearch) TellNotAsked(*Candidate, float64) error { return nil }

type lhsState struct {
	Perms [][]int `json:"perms"`
	Count int     `json:"count"`
}

func (m *lhsSearch) Snapshot() (json.RawMessage, error) {
	return json.Marshal(lhsState{Perms: m.perms, Count: m.count})
}

func (m *lhsSearch) Restore(data json.RawMessage) error {
	var st lhsState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to restore LHS state: %w", err)
	}
	m.perms = st.Perms
	m.count = st.Count
	return nil
}

// haltonSearch walks the Halton low-discrepancy sequence, one prime base
// per coordinate.
type haltonSearch struct {
	env   *Env
	count int
}

func (m *haltonSearch) Ask() (*Candidate, error) {
	m.count++
	u := make([]float64, m.env.Dimension())
	for d := range u {
		u[d] = radicalInverse(m.count, nthPrime(d))
	}
	data, err := m.env.Param.FromUnit(u)
	if err != nil {
		return nil, err
	}
	return m.env.NewCandidate(data), nil
}

func (m *haltonSearch) Tell(*Candidate, float64)               {}
func (m *haltonSearch) TellNotAsked(*Candidate, float64) error { return nil }

type haltonState struct {
	Count int `json:"count"`
}

func (m *haltonSearch) Snapshot() (json.RawMessage, error) {
	return json.Marshal(haltonState{Count: m.count})
}

func (m *haltonSearch) Restore(data json.RawMessage) error {
	var st haltonState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to restore Halton state: %w", err)
	}
	m.count = st.Count
	return nil
}

// radicalInverse computes the base-b van der Corput radical inverse of n.
func radicalInverse(n, base int) float64 {
	inv := 0.0
	f := 1.0 / float64(base)
	for n > 0 {
		inv += f * float64(n%base)
		n /= base
		f /= float64(base)
	}
	return inv
}

// nthPrime returns the i-th prime (0-indexed), extending a cached sieve as
// needed.
func nthPrime(i int) int {
	for len(primeCache) <= i {
		n := primeCache[len(primeCache)-1] + 1
		for !isPrime(n) {
			n++
		}
		primeCache = append(primeCache, n)
	}
	return primeCache[i]
}

var primeCache = []int{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47}

func isPrime(n int) bool {
	for d := 2; d*d <= n; d++ {
		if n%d == 0 {
			return false
		}
	}
	return n > 1
}

// metaRecentering targets the fully parallel regime (numWorkers close to
// budget): it spends the whole budget on one scaled low-discrepancy cloud
// whose radius shrinks with the budget-per-dimension ratio, concentrating
// samples where the optimum is most likely a priori.
type metaRecentering struct {
	haltonSearch
	scale float64
}

func newMetaRecentering(env *Env) *metaRecentering {
	dim := float64(env.Dimension())
	scale := math.Sqrt(math.Log(float64(env.Budget)+1) / dim)
	if scale > 1 {
		scale = 1
	}
	if scale < 0.1 {
		scale = 0.1
	}
	return &metaRecentering{haltonSearch: haltonSearch{env: env}, scale: scale}
}

func (m *metaRecentering) Ask() (*Candidate, error) {
	m.count++
	u := make([]float64, m.env.Dimension())
	for d := range u {
		u[d] = radicalInverse(m.count, nthPrime(d))
	}
	data := make([]float64, len(u))
	for i, v := range u {
		data[i] = m.scale * randx.NormQuantile(v)
	}
	return m.env.NewCandidate(data), nil
}
