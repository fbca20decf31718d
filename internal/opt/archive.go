package opt

import (
	"math"
	"strconv"
	"strings"
)

// priorVariance is assumed for points evaluated only once. It keeps the
// confidence margin wide until repeated evaluations confirm a value, which
// is what makes the pessimistic ranking conservative under noise.
const priorVariance = 1e6

// confidenceScale weights the margin added to (or subtracted from) the mean.
const confidenceScale = 0.1

// Stats aggregates every loss ever told for one encoded point.
type Stats struct {
	// Count is the total number of tells for this point, including tells
	// with non-finite losses.
	Count int `json:"count"`

	// FiniteCount is the number of finite losses among those tells. Only
	// finite losses enter the moment computations below, so a NaN or Inf
	// evaluation can never poison the statistics.
	FiniteCount int `json:"finiteCount"`

	// Mean is the running mean of finite losses.
	Mean float64 `json:"mean"`

	// Square is the running mean of squared finite losses.
	Square float64 `json:"square"`
}

// add folds one observed loss into the statistics.
func (s *Stats) add(loss float64) {
	s.Count++
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return
	}
	s.FiniteCount++
	n := float64(s.FiniteCount)
	s.Mean += (loss - s.Mean) / n
	s.Square += (loss*loss - s.Square) / n
}

// variance returns the loss variance estimate, falling back to a wide prior
// while fewer than two finite samples exist.
func (s *Stats) variance() float64 {
	if s.FiniteCount < 2 {
		return priorVariance
	}
	v := s.Square - s.Mean*s.Mean
	if v < 1e-12 {
		v = 1e-12
	}
	return v
}

// margin is the confidence half-width, shrinking as samples accumulate.
func (s *Stats) margin() float64 {
	return confidenceScale * math.Sqrt(s.variance()/float64(maxInt(s.FiniteCount, 1)))
}

// PessimisticConfidenceBound is a conservative upper estimate of the true
// loss, used as the default recommendation ranking.
func (s *Stats) PessimisticConfidenceBound() float64 {
	if s.FiniteCount == 0 {
		return math.Inf(1)
	}
	return s.Mean + s.margin()
}

// OptimisticConfidenceBound is the symmetric lower estimate.
func (s *Stats) OptimisticConfidenceBound() float64 {
	if s.FiniteCount == 0 {
		return math.Inf(1)
	}
	return s.Mean - s.margin()
}

// Average is the plain mean of finite losses (+Inf when there are none).
func (s *Stats) Average() float64 {
	if s.FiniteCount == 0 {
		return math.Inf(1)
	}
	return s.Mean
}

// Rank selects one of the three ranking estimates.
type Rank string

const (
	RankOptimistic  Rank = "optimistic"
	RankPessimistic Rank = "pessimistic"
	RankAverage     Rank = "average"
)

// ranks lists all ranking estimates tracked by the current-bests index.
var ranks = []Rank{RankOptimistic, RankPessimistic, RankAverage}

func (s *Stats) score(r Rank) float64 {
	switch r {
	case RankOptimistic:
		return s.OptimisticConfidenceBound()
	case RankAverage:
		return s.Average()
	default:
		return s.PessimisticConfidenceBound()
	}
}

// Archive records running statistics for every distinct encoded point told
// to an optimizer. Keys are canonical string encodings of the standardized
// vector, rounded so that float noise below 1e-12 maps to the same entry.
type Archive struct {
	entries map[string]*archiveEntry
}

type archiveEntry struct {
	data  []float64
	stats Stats
}

// NewArchive creates an empty archive.
func NewArchive() *Archive {
	return &Archive{entries: make(map[string]*archiveEntry)}
}

// encodeKey produces the canonical hash key for a standardized vector.
func encodeKey(data []float64) string {
	var b strings.Builder
	for i, v := range data {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'e', 12, 64))
	}
	return b.String()
}

// Add folds one loss observation for the given point and returns its key.
func (a *Archive) Add(data []float64, loss float64) string {
	key := encodeKey(data)
	entry, ok := a.entries[key]
	if !ok {
		entry = &archiveEntry{data: append([]float64(nil), data...)}
		a.entries[key] = entry
	}
	entry.stats.add(loss)
	return key
}

// Lookup returns the statistics for an exact encoded point, if present.
func (a *Archive) Lookup(data []float64) (*Stats, bool) {
	entry, ok := a.entries[encodeKey(data)]
	if !ok {
		return nil, false
	}
	return &entry.stats, true
}

// Len returns the number of distinct points.
func (a *Archive) Len() int { return len(a.entries) }

// Each iterates over all (point, stats) pairs. Iteration order is
// unspecified.
func (a *Archive) Each(fn func(data []float64, stats *Stats) bool) {
	for _, entry := range a.entries {
		if !fn(entry.data, &entry.stats) {
			return
		}
	}
}

// MinScore returns the key and score of the minimum entry under the given
// rank. ok is false for an empty archive.
func (a *Archive) MinScore(r Rank) (key string, score float64, ok bool) {
	score = math.Inf(1)
	for k, entry := range a.entries {
		if s := entry.stats.score(r); !ok || s < score {
			key, score, ok = k, s, true
		}
	}
	return key, score, ok
}

func (a *Archive) get(key string) *archiveEntry { return a.entries[key] }

type archiveEntryState struct {
	Data  []float64 `json:"data"`
	Stats Stats     `json:"stats"`
}

func (a *Archive) state() []archiveEntryState {
	out := make([]archiveEntryState, 0, len(a.entries))
	for _, entry := range a.entries {
		out = append(out, archiveEntryState{Data: entry.data, Stats: entry.stats})
	}
	return out
}

func (a *Archive) restore(states []archiveEntryState) {
	a.entries = make(map[string]*archiveEntry, len(states))
	for _, st := range states {
		a.entries[encodeKey(st.Data)] = &archiveEntry{
			data:  append([]float64(nil), st.Data...),
			stats: st.Stats,
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
