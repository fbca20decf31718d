package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// BaselineColumns is the fixed number of standardized-data components a
// baseline row records. Recommendations in fewer dimensions are padded with
// zeros, higher-dimensional ones are truncated.
const BaselineColumns = 16

// ErrNoBaseline indicates that a strategy has no recorded recommendation
// baseline. Callers check it with errors.Is.
var ErrNoBaseline = errors.New("no recorded baseline")

// MissingBaselineError is returned when a strategy is compared against the
// baseline table but no row has been recorded for it.
type MissingBaselineError struct {
	Strategy string
}

func (e *MissingBaselineError) Error() string {
	return fmt.Sprintf("strategy %q has no recorded recommendation baseline, please record a baseline first", e.Strategy)
}

func (e *MissingBaselineError) Is(target error) bool {
	return target == ErrNoBaseline
}

// BaselineDriftError is returned by Check when a strategy's recommendation
// no longer matches its recorded baseline.
type BaselineDriftError struct {
	Strategy string
	Column   int
	Want     float64
	Got      float64
}

func (e *BaselineDriftError) Error() string {
	return fmt.Sprintf("strategy %q drifted from its recorded baseline at component %d: recorded %.10f, got %.10f",
		e.Strategy, e.Column, e.Want, e.Got)
}

// BaselineTable holds recorded recommendation baselines keyed by strategy
// name. Each row is the standardized recommendation of a fixed reference run,
// rounded to ten decimals, and is used to detect behavioral drift between
// versions.
type BaselineTable struct {
	rows map[string][]float64
}

// NewBaselineTable returns an empty baseline table.
func NewBaselineTable() *BaselineTable {
	return &BaselineTable{rows: make(map[string][]float64)}
}

// LoadBaselines reads a baseline table from the CSV file at path.
// A missing file yields an empty table, so lookups fail per strategy
// rather than at load time.
func LoadBaselines(path string) (*BaselineTable, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewBaselineTable(), nil
		}
		return nil, fmt.Errorf("failed to open baseline file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse baseline file: %w", err)
	}

	table := NewBaselineTable()
	for i, record := range records {
		if i == 0 && len(record) > 0 && record[0] == "strategy" {
			continue // header
		}
		if len(record) != BaselineColumns+1 {
			return nil, fmt.Errorf("baseline row %d has %d columns, want %d", i+1, len(record), BaselineColumns+1)
		}
		values := make([]float64, BaselineColumns)
		for j := 0; j < BaselineColumns; j++ {
			v, err := strconv.ParseFloat(record[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("baseline row %d column v%d: %w", i+1, j, err)
			}
			values[j] = v
		}
		table.rows[record[0]] = values
	}
	return table, nil
}

// Lookup returns the recorded baseline row for a strategy.
// A strategy without a row fails loudly with a MissingBaselineError.
func (t *BaselineTable) Lookup(strategy string) ([]float64, error) {
	row, ok := t.rows[strategy]
	if !ok {
		return nil, &MissingBaselineError{Strategy: strategy}
	}
	out := make([]float64, len(row))
	copy(out, row)
	return out, nil
}

// Record stores the given standardized recommendation as the baseline for a
// strategy, replacing any previous row. Values are rounded to ten decimals
// and padded or truncated to BaselineColumns components.
func (t *BaselineTable) Record(strategy string, data []float64) {
	row := make([]float64, BaselineColumns)
	for i := 0; i < BaselineColumns && i < len(data); i++ {
		row[i] = roundBaseline(data[i])
	}
	t.rows[strategy] = row
}

// Check compares a recommendation against the recorded baseline for a
// strategy. It returns a MissingBaselineError when no row exists and a
// BaselineDriftError on the first mismatching component.
func (t *BaselineTable) Check(strategy string, data []float64) error {
	row, ok := t.rows[strategy]
	if !ok {
		return &MissingBaselineError{Strategy: strategy}
	}
	for i := 0; i < BaselineColumns; i++ {
		var got float64
		if i < len(data) {
			got = roundBaseline(data[i])
		}
		if got != row[i] {
			return &BaselineDriftError{Strategy: strategy, Column: i, Want: row[i], Got: got}
		}
	}
	return nil
}

// Strategies returns the recorded strategy names in sorted order.
func (t *BaselineTable) Strategies() []string {
	names := make([]string, 0, len(t.rows))
	for name := range t.rows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save writes the table as CSV to the given path, rows sorted by strategy
// name. The write is atomic: data goes to a temporary file first which is
// then renamed into place.
func (t *BaselineTable) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create baseline directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".baselines-*.csv.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp baseline file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // No-op after successful rename

	writer := csv.NewWriter(tmp)
	header := make([]string, BaselineColumns+1)
	header[0] = "strategy"
	for i := 0; i < BaselineColumns; i++ {
		header[i+1] = fmt.Sprintf("v%d", i)
	}
	if err := writer.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write baseline header: %w", err)
	}

	for _, name := range t.Strategies() {
		record := make([]string, BaselineColumns+1)
		record[0] = name
		for i, v := range t.rows[name] {
			record[i+1] = strconv.FormatFloat(v, 'f', 10, 64)
		}
		if err := writer.Write(record); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write baseline row for %s: %w", name, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush baseline writer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync baseline file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close baseline file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename baseline file: %w", err)
	}
	return nil
}

func roundBaseline(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*1e10) / 1e10
}
