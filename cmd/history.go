package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/digest-cli/internal/model"
	"github.com/sells-group/digest-cli/internal/store"
)

var (
	historyLimit   int
	historyURL     string
	historyBatches bool
	historyJSON    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently processed URLs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return err
		}
		return showHistory(ctx, st, os.Stdout)
	},
}

func showHistory(ctx context.Context, st store.Store, w io.Writer) error {
	switch {
	case historyURL != "":
		r, err := st.Get(ctx, historyURL)
		if err != nil {
			return err
		}
		return writeJSON(w, r)
	case historyBatches:
		runs, err := st.ListBatches(ctx, historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			return writeJSON(w, runs)
		}
		return printBatches(w, runs)
	default:
		results, err := st.List(ctx, historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			return writeJSON(w, results)
		}
		return printResults(w, results)
	}
}

func printResults(w io.Writer, results []model.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tSTATUS\tMETHOD\tURL")
	for _, r := range results {
		method := "-"
		if r.Content != nil {
			method = r.Content.ExtractionMethod
		}
		status := string(r.Status)
		if r.FailureKind != model.FailureNone {
			status += " (" + string(r.FailureKind) + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.CreatedAt.Format("2006-01-02 15:04:05"), status, method, r.URL)
	}
	return tw.Flush()
}

func printBatches(w io.Writer, runs []model.BatchRun) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tID\tNAME\tSUCCEEDED\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", r.StartedAt.Format("2006-01-02 15:04:05"), r.ID, r.Name, r.Succeeded, r.Failed)
	}
	return tw.Flush()
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "max entries to show")
	historyCmd.Flags().StringVar(&historyURL, "url", "", "show the latest full result for one URL")
	historyCmd.Flags().BoolVar(&historyBatches, "batches", false, "list batch runs instead of URLs")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(historyCmd)
}
