// Package orchestrator coordinates the Load → Forecast → Report run flow.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/iyulab/threat-forecaster/internal/archive"
	"github.com/iyulab/threat-forecaster/internal/cache"
	"github.com/iyulab/threat-forecaster/internal/config"
	"github.com/iyulab/threat-forecaster/internal/events"
	"github.com/iyulab/threat-forecaster/internal/forecast"
	"github.com/iyulab/threat-forecaster/internal/llm"
	"github.com/iyulab/threat-forecaster/internal/logging"
	"github.com/iyulab/threat-forecaster/internal/recovery"
	"github.com/iyulab/threat-forecaster/internal/reporter"
	"github.com/iyulab/threat-forecaster/internal/tokens"
)

// Options holds CLI flags for the orchestrator. Zero values fall back to the
// [forecast] config section.
type Options struct {
	EventPaths   []string
	HorizonWeeks int
	HistoryWeeks int
	DateField    string
	DryRun       bool
	OutputPath   string // results file; default is a timestamped file under output.dir
	Chart        bool   // also write forecast_charts.json and report.html
	Bundle       bool   // zip the run: forecast, summary, charts and failed responses
	Version      string

	Stdout io.Writer
	Stderr io.Writer
}

// Orchestrator runs forecasts from the command line and for the server.
type Orchestrator struct {
	cfg      *config.Config
	opts     Options
	logger   *zap.Logger
	provider llm.Provider // optional: injected for testing
	store    cache.Store  // optional: injected for testing
	now      func() time.Time
}

// New creates an Orchestrator.
func New(cfg *config.Config, opts Options, logger *zap.Logger) *Orchestrator {
	logger = logging.OrNop(logger)
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &Orchestrator{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// SetProvider overrides the LLM provider (used in tests).
func (o *Orchestrator) SetProvider(p llm.Provider) {
	o.provider = p
}

// SetStore overrides the forecast cache.
func (o *Orchestrator) SetStore(s cache.Store) {
	o.store = s
}

// Refresh runs a live forecast and returns its document. It ignores DryRun.
func (o *Orchestrator) Refresh(ctx context.Context) (forecast.Document, error) {
	saved := o.opts.DryRun
	o.opts.DryRun = false
	defer func() { o.opts.DryRun = saved }()

	res, err := o.Run(ctx)
	if err != nil {
		return nil, err
	}
	return res.Forecast, nil
}

// Run executes the full flow and returns the pipeline result.
func (o *Orchestrator) Run(ctx context.Context) (*forecast.Result, error) {
	if len(o.opts.EventPaths) == 0 {
		return nil, errors.New("no event files given")
	}
	startTime := o.now()

	// --- Stage 1: Load ---
	evs, err := events.LoadAll(ctx, o.opts.EventPaths)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	o.progress("[*] Loaded %d events from %d file(s)\n", len(evs), len(o.opts.EventPaths))

	// --- Stage 2: Forecast ---
	estimator := tokens.New(o.cfg.Budget.Tokenizer, o.logger)
	o.logger.Debug("token estimator", zap.String("mode", estimator.Mode()))
	popts := forecast.Options{
		Budget:             forecast.BudgetFromConfig(o.cfg.Budget),
		Model:              o.cfg.LLM.Model,
		Temperature:        o.cfg.LLM.Temperature,
		IncludeExplanation: o.cfg.LLM.IncludeExplanation,
		SpikeThresholdPct:  o.cfg.Forecast.SpikeThresholdPct,
		Counter:            estimator,
		Now:                o.now,
		Logger:             o.logger,
	}

	sink, err := archive.NewWriter(o.cfg.Output.FailedDir)
	if err != nil {
		return nil, err
	}
	popts.Recovery = recovery.NewEngine(sink, o.logger)

	var completer forecast.Completer
	if !o.opts.DryRun {
		provider, err := o.newProvider()
		if err != nil {
			return nil, err
		}
		completer = provider

		store, closeStore := o.openStore(ctx)
		defer closeStore()
		if store != nil {
			popts.Cache = store
		}
		o.progress("[*] Forecasting with LLM (%s/%s)...\n", o.cfg.LLM.Provider, o.cfg.LLM.Model)
	}

	ro := forecast.RunOptions{
		DateField:     firstNonEmpty(o.opts.DateField, o.cfg.Forecast.DateField),
		HistoryWeeks:  firstPositive(o.opts.HistoryWeeks, o.cfg.Forecast.HistoryWeeks),
		ForecastWeeks: firstPositive(o.opts.HorizonWeeks, o.cfg.Forecast.HorizonWeeks),
		DryRun:        o.opts.DryRun,
	}
	res, err := forecast.NewPipeline(completer, popts).Run(ctx, evs, ro)
	if err != nil {
		var uerr *recovery.UnrecoverableError
		if errors.As(err, &uerr) {
			o.progress("[!] Model response could not be decoded; raw text kept in %s\n", sink.Dir())
			if merr := sink.SaveManifest(); merr != nil {
				o.logger.Warn("could not write response manifest", zap.Error(merr))
			}
			if o.opts.Bundle {
				o.exportBundle(startTime, reporter.BundleInput{Err: err, FailedDir: sink.Dir(), Failed: sink.Hashes()})
			}
		}
		return nil, err
	}
	if res.EstimationDegraded {
		o.progress("[!] Exact tokenizer unavailable; token counts are approximate\n")
	}
	if res.Compression.Exhausted {
		o.progress("[!] Feature records still exceed the token budget after compression\n")
	}

	if res.DryRun {
		return res, o.printEstimate(res.Forecast)
	}

	// --- Stage 3: Report ---
	f := forecast.Parse(res.Forecast)
	o.printTable(f)

	resultsPath, runDir := o.resultsPath(startTime)
	if err := writeJSON(resultsPath, res.Forecast); err != nil {
		return nil, fmt.Errorf("save results: %w", err)
	}
	o.progress("[*] Results saved: %s\n", resultsPath)

	var assets []string
	if o.opts.Chart {
		if assets, err = o.writeReport(f, runDir); err != nil {
			return nil, err
		}
	}
	if o.opts.Bundle {
		o.exportBundle(startTime, reporter.BundleInput{Result: res, ChartPaths: assets})
	}

	o.progress("[*] Total time: %s\n", o.now().Sub(startTime).Round(time.Millisecond))
	return res, nil
}

func (o *Orchestrator) newProvider() (forecast.Completer, error) {
	provider := o.provider
	if provider == nil {
		if err := o.cfg.ValidateLLM(); err != nil {
			return nil, err
		}
		var err error
		provider, err = llm.NewProvider(o.cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("create provider: %w", err)
		}
	}
	retrying := llm.WithRetry(provider, o.cfg.LLM.MaxRetries, o.logger)
	retrying.SetFormat(forecast.Schema)
	return retrying, nil
}

// openStore returns the configured cache. Cache problems never fail a run,
// so an unusable backend yields a nil store.
func (o *Orchestrator) openStore(ctx context.Context) (cache.Store, func()) {
	if o.store != nil {
		return o.store, func() {}
	}
	store, err := cache.New(ctx, o.cfg.Cache)
	if err != nil {
		o.logger.Warn("forecast cache unavailable", zap.Error(err))
		return nil, func() {}
	}
	return store, func() {
		if err := cache.Close(store); err != nil {
			o.logger.Warn("could not close forecast cache", zap.Error(err))
		}
	}
}

// resultsPath returns where to save the results file and the directory the
// rest of the run's artifacts go to.
func (o *Orchestrator) resultsPath(start time.Time) (string, string) {
	if o.opts.OutputPath != "" {
		return o.opts.OutputPath, filepath.Dir(o.opts.OutputPath)
	}
	ts := start.UTC().Format("20060102T150405Z")
	runDir := filepath.Join(o.cfg.Output.Dir, "forecast_"+ts)
	return filepath.Join(runDir, "forecast_results_"+ts+".json"), runDir
}

// writeReport writes the chart data and HTML report and returns their paths.
func (o *Orchestrator) writeReport(f forecast.Forecast, runDir string) ([]string, error) {
	now := o.now()
	charts := reporter.BuildCharts(f, now)
	chartPath := filepath.Join(runDir, "forecast_charts.json")
	if err := reporter.WriteCharts(chartPath, charts); err != nil {
		return nil, fmt.Errorf("write charts: %w", err)
	}
	o.progress("[*] Charts: %s\n", chartPath)

	rep, err := reporter.New()
	if err != nil {
		return nil, fmt.Errorf("create reporter: %w", err)
	}
	reportPath, err := rep.Generate(reporter.NewReportData(f, o.opts.Version, now), runDir)
	if err != nil {
		return nil, fmt.Errorf("generate report: %w", err)
	}
	o.progress("[*] Report generated: %s\n", reportPath)
	return []string{chartPath, reportPath}, nil
}

// exportBundle zips the run into output.dir/forecast_<ts>.zip. Failures are
// logged and never fail the run.
func (o *Orchestrator) exportBundle(start time.Time, in reporter.BundleInput) {
	in.RunID = "forecast_" + start.UTC().Format("20060102T150405Z")
	in.OutDir = o.cfg.Output.Dir
	in.ToolVersion = o.opts.Version
	in.CreatedAt = o.now()
	zipPath, err := reporter.ExportBundle(in)
	if err != nil {
		o.logger.Warn("bundle export failed", zap.String("run_id", in.RunID), zap.Error(err))
		return
	}
	o.progress("[*] Bundle: %s\n", zipPath)
}

func (o *Orchestrator) printEstimate(doc forecast.Document) error {
	enc := json.NewEncoder(o.opts.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func (o *Orchestrator) printTable(f forecast.Forecast) {
	out := o.opts.Stdout
	fmt.Fprintf(out, "\n=== Threat Forecast (%d weeks) ===\n", f.HorizonWeeks)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WEEK\tEXPECTED\tCI\tSPIKE\tCONFIDENCE\tRISK")
	for _, p := range f.Predictions {
		fmt.Fprintf(tw, "%s\t%d\t%d-%d\t%.0f%%\t%.2f\t%s\n",
			p.WeekStart, p.ExpectedCount, p.ExpectedCountCI[0], p.ExpectedCountCI[1],
			p.SpikeProbability*100, p.Confidence, reporter.RiskLevel(p.SpikeProbability))
	}
	tw.Flush()

	fmt.Fprintf(out, "Monthly predicted attacks: %d\n", f.MonthlyPredictedAttacks)
	for _, t := range f.PredictedThreatTypes {
		fmt.Fprintf(out, "  %-28s %5.1f%%\n", t.ThreatType, t.Probability*100)
	}
}

func (o *Orchestrator) progress(format string, args ...any) {
	fmt.Fprintf(o.opts.Stderr, format, args...)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstPositive(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}
