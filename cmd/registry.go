package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/blackbox/internal/opt"
	"github.com/cwbudde/blackbox/internal/param"
)

var (
	explainDecision bool
	explainDim      int
	explainBudget   int
	explainWorkers  int
	explainNoisy    bool
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "List registered strategies",
	Long: `Lists all registered optimization strategies with their traits.
With --explain, prints which strategy the NGOpt dispatcher would select
for a hypothetical problem described by --dim, --budget, --workers and
--noisy.`,
	RunE: runRegistry,
}

func init() {
	registryCmd.Flags().BoolVar(&explainDecision, "explain", false, "Explain the NGOpt selection for a hypothetical problem")
	registryCmd.Flags().IntVar(&explainDim, "dim", 10, "Search-space dimension for --explain")
	registryCmd.Flags().IntVar(&explainBudget, "budget", 1000, "Evaluation budget for --explain")
	registryCmd.Flags().IntVar(&explainWorkers, "workers", 1, "Parallel workers for --explain")
	registryCmd.Flags().BoolVar(&explainNoisy, "noisy", false, "Treat the objective as noisy for --explain")

	rootCmd.AddCommand(registryCmd)
}

func runRegistry(cmd *cobra.Command, args []string) error {
	if explainDecision {
		return explainSelection()
	}

	names := opt.Strategies()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tONE-SHOT\tRECAST\tSEQUENTIAL")
	fmt.Fprintln(w, "----\t--------\t------\t----------")
	for _, name := range names {
		reg, ok := opt.Describe(name)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			name,
			yesNo(reg.OneShot),
			yesNo(reg.Recast),
			yesNo(reg.NoParallelization),
		)
	}
	w.Flush()

	fmt.Printf("\nTotal strategies: %d\n", len(names))
	return nil
}

func explainSelection() error {
	if explainDim <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	if explainBudget <= 0 {
		return fmt.Errorf("budget must be positive")
	}
	workers := explainWorkers
	if workers <= 0 {
		workers = 1
	}

	p := param.FromDimension(explainDim)
	p.SetNoisy(explainNoisy)
	decision := opt.Explain(p, explainBudget, workers)

	fmt.Printf("Chosen: %s\n", decision.Chosen)
	fmt.Printf("Rule: %s\n", decision.Rule)
	fmt.Println()
	fmt.Println("Problem:")
	fmt.Printf("  Dimension: %d\n", decision.Dimension)
	fmt.Printf("  Budget: %d\n", decision.Budget)
	fmt.Printf("  Workers: %d\n", decision.NumWorkers)
	fmt.Printf("  Noisy: %s\n", yesNo(decision.Noisy))
	fmt.Printf("  Fully continuous: %s\n", yesNo(decision.FullyContinuous))
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
