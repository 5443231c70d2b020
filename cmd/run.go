package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/digest-cli/internal/pipeline"
)

var (
	runURL       string
	runFactCheck bool
	runNoSummary bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract and digest a single URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := pipelineOptions(env.Pipeline, runFactCheck, !runNoSummary)
		return runDigest(ctx, env.Pipeline, runURL, opts, os.Stdout)
	},
}

// runDigest processes one URL and writes the result as JSON. A failed URL
// is still printed and then reported as an error.
func runDigest(ctx context.Context, p *pipeline.Pipeline, rawURL string, opts pipeline.Options, w io.Writer) error {
	result := p.Process(ctx, rawURL, opts)

	zap.L().Info("digest complete",
		zap.String("url", result.URL),
		zap.String("status", string(result.Status)),
		zap.Int("attempts", len(result.Attempts)),
		zap.Duration("elapsed", result.Duration),
	)

	if err := writeJSON(w, result); err != nil {
		return err
	}
	if !result.Succeeded() {
		return eris.Errorf("digest %s: %s", rawURL, result.FailureKind)
	}
	return nil
}

// pipelineOptions drops stages the environment cannot run and logs why.
func pipelineOptions(p *pipeline.Pipeline, factCheck, summarize bool) pipeline.Options {
	if summarize && !p.CanSummarize() {
		zap.L().Warn("summary requested but no anthropic key is configured; skipping")
		summarize = false
	}
	if factCheck && !p.CanFactCheck() {
		zap.L().Warn("fact check requested but no factcheck key is configured; skipping")
		factCheck = false
	}
	return pipeline.Options{FactCheck: factCheck, Summarize: summarize}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	runCmd.Flags().StringVar(&runURL, "url", "", "article URL (required)")
	runCmd.Flags().BoolVar(&runFactCheck, "fact-check", false, "look up published fact-checks for claims in the article")
	runCmd.Flags().BoolVar(&runNoSummary, "no-summary", false, "skip the Claude summary")
	_ = runCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(runCmd)
}
