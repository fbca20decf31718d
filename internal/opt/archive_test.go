package opt

import (
	"math"
	"testing"
)

func TestStatsSingleObservationUsesPrior(t *testing.T) {
	var s Stats
	s.add(5)

	if s.Count != 1 || s.FiniteCount != 1 {
		t.Fatalf("Unexpected counts: %+v", s)
	}
	// One sample keeps the wide prior variance of 1e6, so the margin is
	// 0.1 * sqrt(1e6 / 1) = 100.
	wantMargin := 100.0
	if got := s.PessimisticConfidenceBound(); math.Abs(got-(5+wantMargin)) > 1e-9 {
		t.Errorf("Pessimistic bound should be %g, got %g", 5+wantMargin, got)
	}
	if got := s.OptimisticConfidenceBound(); math.Abs(got-(5-wantMargin)) > 1e-9 {
		t.Errorf("Optimistic bound should be %g, got %g", 5-wantMargin, got)
	}
	if s.Average() != 5 {
		t.Errorf("Average should be 5, got %g", s.Average())
	}
}

func TestStatsMarginShrinksWithSamples(t *testing.T) {
	var s Stats
	losses := []float64{1, 2, 3, 2, 1, 2, 3, 2}
	for _, l := range losses {
		s.add(l)
	}

	mean := 2.0
	variance := 0.5 // E[x^2] - mean^2 over the samples above
	wantMargin := 0.1 * math.Sqrt(variance/float64(len(losses)))
	if got := s.PessimisticConfidenceBound(); math.Abs(got-(mean+wantMargin)) > 1e-9 {
		t.Errorf("Pessimistic bound should be %g, got %g", mean+wantMargin, got)
	}

	var single Stats
	single.add(2)
	if s.margin() >= single.margin() {
		t.Error("Margin should shrink as samples accumulate")
	}
}

func TestStatsIgnoresNonFinite(t *testing.T) {
	var s Stats
	s.add(1)
	s.add(math.NaN())
	s.add(math.Inf(1))
	s.add(3)

	if s.Count != 4 {
		t.Errorf("All tells should count, got %d", s.Count)
	}
	if s.FiniteCount != 2 {
		t.Errorf("Only finite tells should enter moments, got %d", s.FiniteCount)
	}
	if s.Mean != 2 {
		t.Errorf("Mean over finite losses should be 2, got %g", s.Mean)
	}
}

func TestStatsAllNonFinite(t *testing.T) {
	var s Stats
	s.add(math.NaN())
	if !math.IsInf(s.PessimisticConfidenceBound(), 1) {
		t.Error("Point without finite losses should rank at +Inf")
	}
	if !math.IsInf(s.Average(), 1) {
		t.Error("Average without finite losses should be +Inf")
	}
}

func TestArchiveFoldsRepeatedPoints(t *testing.T) {
	a := NewArchive()
	point := []float64{0.25, -1.5}

	a.Add(point, 2)
	a.Add(point, 4)
	a.Add([]float64{1, 1}, 1)

	if a.Len() != 2 {
		t.Fatalf("Expected 2 distinct points, got %d", a.Len())
	}
	stats, ok := a.Lookup(point)
	if !ok {
		t.Fatal("Repeated point should be present")
	}
	if stats.Count != 2 || stats.Mean != 3 {
		t.Errorf("Repeated point should fold both tells, got %+v", stats)
	}
}

func TestArchiveMinScore(t *testing.T) {
	a := NewArchive()
	if _, _, ok := a.MinScore(RankPessimistic); ok {
		t.Error("Empty archive should have no minimum")
	}

	keyGood := a.Add([]float64{1}, 1)
	a.Add([]float64{2}, 5)
	a.Add([]float64{3}, 9)
	// Confirm the good point with more samples so its bound tightens.
	a.Add([]float64{1}, 1)
	a.Add([]float64{1}, 1)

	key, score, ok := a.MinScore(RankPessimistic)
	if !ok {
		t.Fatal("Expected a minimum")
	}
	if key != keyGood {
		t.Errorf("Minimum should be the confirmed low point, got key %q", key)
	}
	if score <= 1 {
		t.Errorf("Pessimistic score should sit above the mean, got %g", score)
	}
}

func TestArchiveKeyRounding(t *testing.T) {
	a := NewArchive()
	a.Add([]float64{0.1 + 1e-15}, 1)
	a.Add([]float64{0.1}, 3)
	if a.Len() != 1 {
		t.Errorf("Sub-precision float noise should map to one entry, got %d", a.Len())
	}
}
