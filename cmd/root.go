package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/digest-cli/internal/config"
)

var (
	cfg *config.Config

	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "digest-cli",
	Short: "Article extraction and summarization",
	Long: `Extracts article text from hard-to-scrape URLs through a fallback chain
of strategies, then optionally fact-checks and summarizes it with Claude.

Settings come from config.yaml in the working directory and DIGEST_*
environment variables.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log format (json, console)")
}

// setup loads configuration, applies flag overrides and installs the
// global logger before any subcommand runs.
func setup(*cobra.Command, []string) error {
	c, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "load config")
	}
	applyLogFlags(&c.Log, logLevel, logFormat)
	if err := config.InitLogger(c.Log); err != nil {
		return eris.Wrap(err, "init logger")
	}
	cfg = c
	return nil
}

func applyLogFlags(lc *config.LogConfig, level, format string) {
	if level != "" {
		lc.Level = level
	}
	if format != "" {
		lc.Format = format
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
