package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iyulab/threat-forecaster/internal/browser"
	"github.com/iyulab/threat-forecaster/internal/cache"
	"github.com/iyulab/threat-forecaster/internal/forecast"
	"github.com/iyulab/threat-forecaster/internal/orchestrator"
	"github.com/iyulab/threat-forecaster/internal/reporter"
	"github.com/iyulab/threat-forecaster/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		port       int
		eventPaths []string
		open       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the latest cached forecast over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, len(eventPaths) > 0)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx := cmd.Context()
			store, err := cache.New(ctx, cfg.Cache)
			if err != nil {
				return fmt.Errorf("open cache: %w", err)
			}
			defer func() {
				if err := cache.Close(store); err != nil {
					logger.Warn("could not close forecast cache", zap.Error(err))
				}
			}()

			var refresh server.RefreshFunc
			if len(eventPaths) > 0 {
				orch := orchestrator.New(cfg, orchestrator.Options{
					EventPaths: eventPaths,
					Version:    versionString(),
					Stdout:     os.Stderr,
				}, logger)
				orch.SetStore(store)
				refresh = orch.Refresh
			}

			rep, err := reporter.New()
			if err != nil {
				return fmt.Errorf("create reporter: %w", err)
			}
			srv := server.New(store, refresh, logger)
			srv.SetRenderFunc(func(f forecast.Forecast) (string, error) {
				return rep.GenerateString(reporter.NewReportData(f, versionString(), time.Now()))
			})

			if !cmd.Flags().Changed("port") {
				port = cfg.Server.Port
			}
			addr, err := srv.Start(ctx, port)
			if err != nil {
				return err
			}
			defer srv.Stop()

			url := "http://" + addr
			fmt.Fprintf(os.Stderr, "[*] Serving forecasts at %s (Ctrl+C to stop)\n", url)
			if open {
				if err := browser.Open(url); err != nil {
					logger.Warn("could not open browser", zap.Error(err))
				}
			}

			<-ctx.Done()
			fmt.Fprintln(os.Stderr, "[*] Shutting down")
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&port, "port", "p", 8742, "port to listen on (default from config)")
	f.StringSliceVarP(&eventPaths, "events", "e", nil, "event files; enables POST /api/forecast/refresh")
	f.BoolVar(&open, "open", false, "open the report in the default browser")
	return cmd
}
