// Package forecast turns raw threat events into a week-by-week forecast.
//
// A Pipeline aggregates events into weekly feature records, fits them into
// the prompt budget, asks a language model for a forecast, recovers a JSON
// object from whatever text comes back and completes the derived fields.
package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iyulab/threat-forecaster/internal/events"
	"github.com/iyulab/threat-forecaster/internal/features"
	"github.com/iyulab/threat-forecaster/internal/recovery"
	"github.com/iyulab/threat-forecaster/internal/tokens"
)

// ErrTransport wraps failures of the model call itself. The pipeline does
// not retry; retry policy belongs to the Completer.
var ErrTransport = errors.New("llm transport error")

// Completer sends one prompt pair to a language model and returns its text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Cache receives every finished forecast as JSON.
type Cache interface {
	Put(ctx context.Context, key string, doc []byte) error
}

// DefaultCacheKey is the key finished forecasts are cached under.
const DefaultCacheKey = "latest"

const aggregationMethod = "weekly_count"

// Options configures a Pipeline. Only Budget is required.
type Options struct {
	Budget             Budget
	Model              string
	Temperature        float64
	IncludeExplanation bool
	SpikeThresholdPct  float64
	Counter            tokens.Counter
	Recovery           *recovery.Engine // nil uses an engine without a sink
	Cache              Cache            // optional
	CacheKey           string
	Now                func() time.Time
	Logger             *zap.Logger
}

// RunOptions are the per-run parameters.
type RunOptions struct {
	DateField     string // "timestamp" or "published"
	HistoryWeeks  int    // 0 keeps every week
	ForecastWeeks int
	DryRun        bool
}

// Result is the outcome of one run.
type Result struct {
	Forecast       Document
	Estimate       Estimate
	FeatureRecords []features.WeeklyRecord // as sent to the model
	Compression    Compression
	Strategy       string // recovery strategy, empty for dry runs
	DryRun         bool
	// EstimationDegraded is set when the counter fell back to an
	// approximation for this run's estimate.
	EstimationDegraded bool
}

// degradable is implemented by counters that can fall back to an
// approximate count, such as tokens.Estimator.
type degradable interface {
	Degraded() bool
}

// Pipeline runs forecasts. It keeps no state between runs and can be shared.
type Pipeline struct {
	opts      Options
	completer Completer
	recovery  *recovery.Engine
	logger    *zap.Logger
}

// NewPipeline creates a Pipeline. completer may be nil when only dry runs
// are made.
func NewPipeline(completer Completer, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Counter == nil {
		opts.Counter = tokens.New(tokens.ModeHeuristic, opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CacheKey == "" {
		opts.CacheKey = DefaultCacheKey
	}
	engine := opts.Recovery
	if engine == nil {
		engine = recovery.NewEngine(nil, opts.Logger)
	}
	return &Pipeline{
		opts:      opts,
		completer: completer,
		recovery:  engine,
		logger:    opts.Logger.Named("pipeline"),
	}
}

// Run produces a forecast for evs.
func (p *Pipeline) Run(ctx context.Context, evs []events.Event, ro RunOptions) (*Result, error) {
	if ro.ForecastWeeks <= 0 {
		ro.ForecastWeeks = 4
	}
	records := features.Recent(features.Aggregate(evs, ro.DateField), ro.HistoryWeeks)
	p.logger.Info("aggregated events",
		zap.Int("events", len(evs)), zap.Int("weeks", len(records)), zap.String("date_field", ro.DateField))

	comp, err := NewCompressor(p.opts.Budget, p.opts.Counter, p.opts.Model, ro.ForecastWeeks, p.logger).Compress(records)
	if err != nil {
		return nil, fmt.Errorf("compress feature records: %w", err)
	}
	est := p.opts.Budget.NewEstimate(len(comp.Records), comp.InputChars, comp.InputTokens)

	res := &Result{
		Estimate:       est,
		FeatureRecords: comp.Records,
		Compression:    comp,
		DryRun:         ro.DryRun,
	}
	if d, ok := p.opts.Counter.(degradable); ok && d.Degraded() {
		res.EstimationDegraded = true
		p.logger.Debug("token estimate is approximate", zap.Int("estimated_input_tokens", est.EstimatedInputTokens))
	}
	if ro.DryRun {
		res.Forecast = p.dryRunDocument(est)
		return res, nil
	}
	if p.completer == nil {
		return nil, fmt.Errorf("%w: no model configured", ErrTransport)
	}

	builder := PromptBuilder{
		IncludeExplanation: p.opts.IncludeExplanation,
		SpikeThresholdPct:  p.opts.SpikeThresholdPct,
	}
	system, user, err := builder.Build(comp.Records, ro.ForecastWeeks, comp.Compact)
	if err != nil {
		return nil, err
	}

	p.logger.Info("requesting forecast",
		zap.String("model", p.opts.Model), zap.Int("estimated_input_tokens", est.EstimatedInputTokens))
	raw, err := p.completer.Complete(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	rec, err := p.recovery.Recover(raw)
	if err != nil {
		return nil, err
	}
	res.Strategy = rec.Strategy

	doc := NewPostProcessor(ro.ForecastWeeks, p.logger).Process(Document(rec.Object), p.opts.Now())
	p.fillMetadata(doc, res)
	res.Forecast = doc

	p.cache(ctx, doc)
	return res, nil
}

func (p *Pipeline) dryRunDocument(est Estimate) Document {
	return Document{
		FieldPredictions:          []any{},
		"feature_records_count":   est.FeatureRecordsCount,
		"input_chars":             est.InputChars,
		"estimated_input_tokens":  est.EstimatedInputTokens,
		"estimated_output_tokens": est.EstimatedOutputTokens,
		"estimated_total_tokens":  est.EstimatedTotalTokens,
		"estimated_cost_usd":      est.EstimatedCostUSD,
		FieldMetadata: map[string]any{
			"model":        "dry-run",
			"price_per_1k": p.opts.Budget.PricePer1K,
		},
	}
}

// fillMetadata adds run details the model did not report itself.
func (p *Pipeline) fillMetadata(doc Document, res *Result) {
	meta, ok := doc[FieldMetadata].(map[string]any)
	if !ok {
		return
	}
	extras := map[string]any{
		"model":                  p.opts.Model,
		"temperature":            p.opts.Temperature,
		"aggregation_method":     aggregationMethod,
		"feature_records":        len(res.FeatureRecords),
		"recovery_strategy":      res.Strategy,
		"estimated_input_tokens": res.Estimate.EstimatedInputTokens,
	}
	for k, v := range extras {
		if _, exists := meta[k]; !exists {
			meta[k] = v
		}
	}
}

func (p *Pipeline) cache(ctx context.Context, doc Document) {
	if p.opts.Cache == nil {
		return
	}
	data, err := json.Marshal(doc)
	if err != nil {
		p.logger.Warn("could not encode forecast for cache", zap.Error(err))
		return
	}
	if err := p.opts.Cache.Put(ctx, p.opts.CacheKey, data); err != nil {
		p.logger.Warn("could not cache forecast", zap.Error(err))
	}
}
