package reporter

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/iyulab/threat-forecaster/internal/forecast"
)

// Spike risk bands.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// TimeseriesPoint is the expected count for one forecast week.
type TimeseriesPoint struct {
	WeekStart     string `json:"week_start"`
	ExpectedCount int    `json:"expected_count"`
	CILower       int    `json:"ci_lower"`
	CIUpper       int    `json:"ci_upper"`
}

// SpikePoint is the spike probability for one forecast week.
type SpikePoint struct {
	WeekStart        string  `json:"week_start"`
	SpikeProbability float64 `json:"spike_probability"`
	RiskLevel        string  `json:"risk_level"`
}

// ConfidenceSummary describes model confidence across the horizon.
type ConfidenceSummary struct {
	Avg float64 `json:"avg_confidence"`
	Min float64 `json:"min_confidence"`
	Max float64 `json:"max_confidence"`
	Std float64 `json:"std_confidence"` // sample deviation, 0 for a single week
}

// SignalSummary aggregates one signal over every week it appears in.
type SignalSummary struct {
	SignalType string  `json:"signal_type"`
	SignalID   string  `json:"signal_id"`
	TotalScore float64 `json:"total_score"`
	AvgScore   float64 `json:"avg_score"`
	Frequency  int     `json:"frequency"`
}

// Dataset is one series of a chart.
type Dataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

// ChartData holds a chart's x labels and series.
type ChartData struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Chart is a chart.js style chart configuration.
type Chart struct {
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Data    ChartData      `json:"data"`
	Options map[string]any `json:"options"`
}

// SummaryStats are headline numbers for a dashboard.
type SummaryStats struct {
	TotalPredictions        int `json:"total_predictions"`
	MonthlyPredictedAttacks int `json:"monthly_predicted_attacks"`
}

// Charts is the frontend export of a forecast.
type Charts struct {
	Metadata     map[string]any            `json:"metadata"`
	HorizonWeeks int                       `json:"forecast_horizon_weeks"`
	GeneratedAt  time.Time                 `json:"generated_at"`
	Timeseries   []TimeseriesPoint         `json:"timeseries"`
	SpikeRisk    []SpikePoint              `json:"spike_risk"`
	Confidence   *ConfidenceSummary        `json:"confidence,omitempty"`
	Signals      []SignalSummary           `json:"signal_summary"`
	ThreatTypes  []forecast.ThreatType     `json:"predicted_threat_types"`
	KeySignals   []forecast.KeySignal      `json:"key_signals_user_friendly"`
	ChartConfigs map[string]Chart          `json:"charts"`
	Stats        SummaryStats              `json:"summary_stats"`
	Predictions  []forecast.WeekPrediction `json:"raw_predictions"`
}

// RiskLevel buckets a spike probability: up to 0.3 is low, up to 0.6 medium.
func RiskLevel(p float64) string {
	switch {
	case p <= 0.3:
		return RiskLow
	case p <= 0.6:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// BuildCharts derives chart data from f.
func BuildCharts(f forecast.Forecast, now time.Time) Charts {
	c := Charts{
		Metadata:     f.Metadata,
		HorizonWeeks: f.HorizonWeeks,
		GeneratedAt:  now.UTC(),
		Timeseries:   []TimeseriesPoint{},
		SpikeRisk:    []SpikePoint{},
		Signals:      []SignalSummary{},
		ThreatTypes:  f.PredictedThreatTypes,
		KeySignals:   f.KeySignals,
		ChartConfigs: map[string]Chart{},
		Stats: SummaryStats{
			TotalPredictions:        len(f.Predictions),
			MonthlyPredictedAttacks: f.MonthlyPredictedAttacks,
		},
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	if c.HorizonWeeks == 0 {
		c.HorizonWeeks = 4
	}

	preds := append([]forecast.WeekPrediction{}, f.Predictions...)
	sort.SliceStable(preds, func(i, j int) bool { return preds[i].WeekStart < preds[j].WeekStart })
	c.Predictions = preds

	for _, p := range preds {
		c.Timeseries = append(c.Timeseries, TimeseriesPoint{
			WeekStart:     p.WeekStart,
			ExpectedCount: p.ExpectedCount,
			CILower:       p.ExpectedCountCI[0],
			CIUpper:       p.ExpectedCountCI[1],
		})
		c.SpikeRisk = append(c.SpikeRisk, SpikePoint{
			WeekStart:        p.WeekStart,
			SpikeProbability: p.SpikeProbability,
			RiskLevel:        RiskLevel(p.SpikeProbability),
		})
	}
	c.Confidence = confidence(preds)
	c.Signals = summarizeSignals(preds)

	if len(preds) > 0 {
		c.ChartConfigs["line_chart"] = lineChart(c.Timeseries)
		c.ChartConfigs["bar_chart"] = barChart(c.SpikeRisk)
	}
	return c
}

func confidence(preds []forecast.WeekPrediction) *ConfidenceSummary {
	if len(preds) == 0 {
		return nil
	}
	s := ConfidenceSummary{Min: math.Inf(1), Max: math.Inf(-1)}
	sum := 0.0
	for _, p := range preds {
		sum += p.Confidence
		s.Min = math.Min(s.Min, p.Confidence)
		s.Max = math.Max(s.Max, p.Confidence)
	}
	n := float64(len(preds))
	s.Avg = sum / n
	if len(preds) > 1 {
		ss := 0.0
		for _, p := range preds {
			ss += (p.Confidence - s.Avg) * (p.Confidence - s.Avg)
		}
		s.Std = math.Sqrt(ss / (n - 1))
	}
	return &s
}

func summarizeSignals(preds []forecast.WeekPrediction) []SignalSummary {
	type key struct{ typ, id string }
	index := make(map[key]int)
	out := []SignalSummary{}
	for _, p := range preds {
		for _, s := range p.TopSignals {
			k := key{s.SignalType, s.ID}
			i, ok := index[k]
			if !ok {
				i = len(out)
				index[k] = i
				out = append(out, SignalSummary{SignalType: s.SignalType, SignalID: s.ID})
			}
			out[i].TotalScore += s.Score
			out[i].Frequency++
		}
	}
	for i := range out {
		out[i].AvgScore = out[i].TotalScore / float64(out[i].Frequency)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalScore > out[j].TotalScore })
	return out
}

func lineChart(ts []TimeseriesPoint) Chart {
	labels := make([]string, len(ts))
	expected := make([]float64, len(ts))
	lower := make([]float64, len(ts))
	upper := make([]float64, len(ts))
	for i, p := range ts {
		labels[i] = p.WeekStart
		expected[i] = float64(p.ExpectedCount)
		lower[i] = float64(p.CILower)
		upper[i] = float64(p.CIUpper)
	}
	return Chart{
		Type:  "line",
		Title: "Expected Threat Count Forecast",
		Data: ChartData{
			Labels: labels,
			Datasets: []Dataset{
				{Label: "Expected", Data: expected},
				{Label: "CI Lower", Data: lower},
				{Label: "CI Upper", Data: upper},
			},
		},
		Options: map[string]any{"xAxisLabel": "Week", "yAxisLabel": "Expected Threats", "showLegend": true},
	}
}

func barChart(spikes []SpikePoint) Chart {
	labels := make([]string, len(spikes))
	data := make([]float64, len(spikes))
	for i, s := range spikes {
		labels[i] = s.WeekStart
		data[i] = s.SpikeProbability
	}
	return Chart{
		Type:  "bar",
		Title: "Spike Risk by Week",
		Data: ChartData{
			Labels:   labels,
			Datasets: []Dataset{{Label: "Spike Probability", Data: data}},
		},
		Options: map[string]any{"xAxisLabel": "Week", "yAxisLabel": "Spike Probability", "yAxisMax": 1.0},
	}
}

// WriteCharts writes c as indented JSON.
func WriteCharts(path string, c Charts) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal charts: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write charts: %w", err)
	}
	return nil
}
