package opt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/cwbudde/blackbox/internal/param"
)

// Dump serializes the full optimizer state (archive, counters, random
// state, strategy internals, nested sub-optimizers) to a JSON file, using
// a temp-file + rename write so a crash never leaves a corrupt dump.
//
// Strategies wrapping external engines (recast strategies) cannot be
// serialized and return ErrNotSerializable; this is a documented
// limitation.
func (o *Optimizer) Dump(path string) error {
	data, err := o.MarshalState()
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp dump file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename dump file: %w", err)
	}

	slog.Debug("Optimizer state dumped", "strategy", o.name, "path", path)
	return nil
}

// MarshalState returns the serialized optimizer state as JSON, suitable for
// embedding in a checkpoint. Same limitations as Dump.
func (o *Optimizer) MarshalState() (json.RawMessage, error) {
	st, err := o.state()
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize optimizer state: %w", err)
	}
	return data, nil
}

// Restore rebuilds an optimizer from state produced by MarshalState, with
// the same caller-supplied parametrization contract as Load.
func Restore(state json.RawMessage, p *param.Parametrization) (*Optimizer, error) {
	var st optimizerState
	if err := json.Unmarshal(state, &st); err != nil {
		return nil, fmt.Errorf("failed to deserialize optimizer state: %w", err)
	}

	o, err := New(st.Name, p, st.Budget, st.NumWorkers)
	if err != nil {
		return nil, err
	}
	if err := o.restoreState(&st); err != nil {
		return nil, err
	}
	return o, nil
}

// Load rebuilds an optimizer from a dump file.
//
// The caller supplies a parametrization equivalent to the one used at dump
// time: parameter trees carry constraint callbacks that cannot be
// serialized, so the structure itself is reconstructed by the caller and
// only the dynamic state (random stream position, archive, populations,
// counters) is restored from the file. After Load the optimizer continues
// ask/tell exactly where the dumped instance stopped.
func Load(path string, p *param.Parametrization) (*Optimizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dump file: %w", err)
	}

	o, err := Restore(data, p)
	if err != nil {
		return nil, err
	}

	slog.Debug("Optimizer state loaded", "strategy", o.name, "path", path)
	return o, nil
}
