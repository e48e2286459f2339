package main

import (
	"github.com/spf13/cobra"

	"github.com/iyulab/threat-forecaster/internal/orchestrator"
)

func newRunCmd() *cobra.Command {
	var opts orchestrator.Options

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Forecast the coming weeks from event files",
		Example: `  forecaster run --events events.json --weeks 4
  forecaster run --events events.csv --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, !opts.DryRun)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			opts.Version = versionString()
			_, err = orchestrator.New(cfg, opts, logger).Run(cmd.Context())
			return err
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&opts.EventPaths, "events", "e", nil, "event files (JSON array, JSON Lines or CSV); repeatable")
	f.IntVarP(&opts.HorizonWeeks, "weeks", "w", 0, "weeks to forecast (default from config)")
	f.IntVar(&opts.HistoryWeeks, "history-weeks", 0, "most recent weeks of history to use (default from config)")
	f.StringVar(&opts.DateField, "date-field", "", `event time to bucket by: "timestamp" or "published"`)
	f.BoolVar(&opts.DryRun, "dry-run", false, "estimate tokens and cost without calling the model")
	f.StringVarP(&opts.OutputPath, "output", "o", "", "results file (default output/forecast_<ts>/forecast_results_<ts>.json)")
	f.BoolVar(&opts.Chart, "chart", false, "also write chart data and an HTML report")
	f.BoolVar(&opts.Bundle, "bundle", false, "zip the forecast, run summary, charts and failed responses")
	_ = cmd.MarkFlagRequired("events")
	return cmd
}
