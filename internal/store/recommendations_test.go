package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBaselineLookupMissingStrategy(t *testing.T) {
	table := NewBaselineTable()

	_, err := table.Lookup("NGOpt")
	if err == nil {
		t.Fatal("Expected error for unrecorded strategy")
	}
	if !errors.Is(err, ErrNoBaseline) {
		t.Errorf("Expected ErrNoBaseline, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "record a baseline") {
		t.Errorf("Error should ask for a baseline recording, got: %v", err)
	}
}

func TestBaselineRecordAndLookup(t *testing.T) {
	table := NewBaselineTable()
	table.Record("DE", []float64{0.123456789012345, -1.5, 2.0})

	row, err := table.Lookup("DE")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(row) != BaselineColumns {
		t.Fatalf("Expected %d columns, got %d", BaselineColumns, len(row))
	}
	// Rounded to ten decimals
	if row[0] != 0.123456789 {
		t.Errorf("Expected rounded first component 0.123456789, got %.15f", row[0])
	}
	if row[1] != -1.5 || row[2] != 2.0 {
		t.Errorf("Unexpected components: %v", row[:3])
	}
	// Padding beyond the recorded dimension
	for i := 3; i < BaselineColumns; i++ {
		if row[i] != 0 {
			t.Errorf("Expected zero padding at v%d, got %f", i, row[i])
		}
	}
}

func TestBaselineCheck(t *testing.T) {
	table := NewBaselineTable()
	table.Record("CMA", []float64{1.0, 2.0})

	if err := table.Check("CMA", []float64{1.0, 2.0}); err != nil {
		t.Errorf("Matching recommendation should pass, got: %v", err)
	}

	// Differences below the rounding resolution are not drift
	if err := table.Check("CMA", []float64{1.0 + 1e-12, 2.0}); err != nil {
		t.Errorf("Sub-resolution difference should pass, got: %v", err)
	}

	err := table.Check("CMA", []float64{1.0, 2.5})
	if err == nil {
		t.Fatal("Expected drift error")
	}
	var drift *BaselineDriftError
	if !errors.As(err, &drift) {
		t.Fatalf("Expected BaselineDriftError, got %T: %v", err, err)
	}
	if drift.Column != 1 || drift.Want != 2.0 || drift.Got != 2.5 {
		t.Errorf("Unexpected drift details: %+v", drift)
	}

	if err := table.Check("PSO", []float64{1.0}); !errors.Is(err, ErrNoBaseline) {
		t.Errorf("Expected ErrNoBaseline for unrecorded strategy, got: %v", err)
	}
}

func TestBaselineSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "baselines.csv")

	table := NewBaselineTable()
	table.Record("TBPSA", []float64{0.25, -0.75})
	table.Record("DE", []float64{1.0})
	table.Record("CMA", []float64{-3.25})

	if err := table.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadBaselines(path)
	if err != nil {
		t.Fatalf("LoadBaselines failed: %v", err)
	}

	names := loaded.Strategies()
	want := []string{"CMA", "DE", "TBPSA"}
	if len(names) != len(want) {
		t.Fatalf("Expected %d strategies, got %d", len(want), len(names))
	}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("Expected sorted strategy %s at %d, got %s", name, i, names[i])
		}
	}

	row, err := loaded.Lookup("TBPSA")
	if err != nil {
		t.Fatalf("Lookup after load failed: %v", err)
	}
	if row[0] != 0.25 || row[1] != -0.75 {
		t.Errorf("Row round trip mismatch: %v", row[:2])
	}
}

func TestBaselineSaveIsSorted(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "baselines.csv")

	table := NewBaselineTable()
	table.Record("Zebra", []float64{1})
	table.Record("Alpha", []float64{2})

	if err := table.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header plus 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "strategy,v0,v1") {
		t.Errorf("Unexpected header: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "Alpha,") || !strings.HasPrefix(lines[2], "Zebra,") {
		t.Errorf("Rows not sorted by strategy name: %v", lines[1:])
	}
}

func TestLoadBaselinesMissingFile(t *testing.T) {
	table, err := LoadBaselines(filepath.Join(t.TempDir(), "missing.csv"))
	if err != nil {
		t.Fatalf("Missing file should load as empty table, got: %v", err)
	}
	if len(table.Strategies()) != 0 {
		t.Errorf("Expected empty table, got %v", table.Strategies())
	}
	if _, err := table.Lookup("anything"); !errors.Is(err, ErrNoBaseline) {
		t.Errorf("Lookups on empty table must fail loudly, got: %v", err)
	}
}

func TestLoadBaselinesRejectsMalformedRows(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "baselines.csv")
	if err := os.WriteFile(path, []byte("DE,1.0,2.0\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := LoadBaselines(path); err == nil {
		t.Fatal("Expected error for wrong column count")
	}
}
