// Package main is the CLI entry point for threat-forecaster.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iyulab/threat-forecaster/internal/config"
	"github.com/iyulab/threat-forecaster/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "forecaster",
		Short: "Weekly threat forecasts from detection events, written by an LLM",
		Long: `threat-forecaster aggregates raw threat detections into weekly features,
asks a language model for a forecast of the coming weeks, and saves a
validated, completed forecast document.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "forecaster.toml", "path to config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	rootCmd.AddCommand(newRunCmd(), newRepairCmd(), newSeedCmd(), newFeedCmd(), newServeCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the --config file. Credentials are only demanded when
// the command is going to call a model.
func loadConfig(cmd *cobra.Command, requireLLM bool) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		cfg *config.Config
		err error
	)
	if requireLLM {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOrDefault(path)
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*zap.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	level := "info"
	if cfg != nil {
		level = cfg.Log.Level
	}
	return logging.New(level, verbose)
}

func versionString() string {
	return fmt.Sprintf("%s (%s)", version, commit)
}
