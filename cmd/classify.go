package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/digest-cli/internal/orchestrator"
)

var classifyCmd = &cobra.Command{
	Use:   "classify url...",
	Short: "Show the classification and strategy plan for URLs without fetching them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, closer, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer() //nolint:errcheck
		}
		return printPlans(orch, args, os.Stdout)
	},
}

// printPlans writes one block per URL. Invalid URLs are reported inline and
// do not stop the others.
func printPlans(orch *orchestrator.Orchestrator, urls []string, w io.Writer) error {
	for _, u := range urls {
		plan, err := orch.Plan(u)
		if err != nil {
			fmt.Fprintf(w, "%s\n  error: %v\n", u, err)
			continue
		}
		fmt.Fprintf(w, "%s\n  classification: %s (rule: %s)\n", plan.URL, plan.Classification, plan.Rule)
		if plan.Hint != nil {
			fmt.Fprintf(w, "  site hint: %s %s\n", plan.Hint.Pattern, plan.Hint.Issue)
		}
		fmt.Fprintf(w, "  strategies: %s\n", strings.Join(plan.Strategies, " -> "))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}
