package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cwbudde/blackbox/internal/bench"
	"github.com/cwbudde/blackbox/internal/opt"
	"github.com/cwbudde/blackbox/internal/store"
)

// Reference problem for recommendation baselines. The dimension matches the
// baseline table width so every recommendation component is recorded.
const (
	baselineObjective = "offset-sphere"
	baselineBudget    = 200
	baselineSeed      = 2024
)

var (
	recordDataDir string
	recordCheck   bool
)

var recordCmd = &cobra.Command{
	Use:   "record [strategy...]",
	Short: "Record recommendation baselines",
	Long: `Runs each strategy on a fixed seeded reference problem and records
its recommendation in the baseline table. A later --check run repeats the
same problem and fails loudly when a recommendation drifts from its
recorded baseline, or when a strategy has no baseline yet.

Without arguments, all registered strategies are covered.`,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVar(&recordDataDir, "data-dir", "./data", "Base directory holding the baseline table")
	recordCmd.Flags().BoolVar(&recordCheck, "check", false, "Verify recommendations against recorded baselines instead of overwriting them")
	rootCmd.AddCommand(recordCmd)
}

func baselinePath() string {
	return filepath.Join(recordDataDir, "baselines.csv")
}

func runRecord(cmd *cobra.Command, args []string) error {
	strategies := args
	if len(strategies) == 0 {
		strategies = opt.Strategies()
	}
	for _, name := range strategies {
		if _, ok := opt.Describe(name); !ok {
			return fmt.Errorf("unknown strategy: %s", name)
		}
	}

	table, err := store.LoadBaselines(baselinePath())
	if err != nil {
		return fmt.Errorf("failed to load baselines: %w", err)
	}

	drifted := 0
	for _, name := range strategies {
		data, err := baselineRun(name)
		if err != nil {
			return fmt.Errorf("baseline run for %s failed: %w", name, err)
		}

		if recordCheck {
			if err := table.Check(name, data); err != nil {
				var drift *store.BaselineDriftError
				if errors.As(err, &drift) {
					fmt.Printf("DRIFT %s: component %d is %.10f, baseline has %.10f\n",
						drift.Strategy, drift.Column, drift.Got, drift.Want)
					drifted++
					continue
				}
				return err
			}
			fmt.Printf("OK %s\n", name)
			continue
		}

		table.Record(name, data)
		fmt.Printf("Recorded %s\n", name)
	}

	if recordCheck {
		if drifted > 0 {
			return fmt.Errorf("%d strategy recommendation(s) drifted from baseline", drifted)
		}
		fmt.Println("All recommendations match their baselines.")
		return nil
	}

	if err := table.Save(baselinePath()); err != nil {
		return fmt.Errorf("failed to save baselines: %w", err)
	}
	fmt.Printf("Saved %d baseline(s) to %s\n", len(strategies), baselinePath())
	return nil
}

// baselineRun runs one strategy on the reference problem and returns its
// recommendation. Runs are sequential and seeded so repeated invocations of
// serializable strategies produce identical recommendations.
func baselineRun(strategy string) ([]float64, error) {
	slog.Info("Running baseline", "strategy", strategy, "objective", baselineObjective, "budget", baselineBudget)
	result, err := bench.Run(context.Background(), bench.RunConfig{
		Strategy:  strategy,
		Objective: baselineObjective,
		Dimension: store.BaselineColumns,
		Budget:    baselineBudget,
		Workers:   1,
		Seed:      baselineSeed,
	})
	if err != nil {
		return nil, err
	}
	return result.BestData, nil
}
