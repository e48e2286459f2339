package reporter

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/iyulab/threat-forecaster/internal/forecast"
)

var chartsNow = time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

func sampleForecast() forecast.Forecast {
	return forecast.Forecast{
		HorizonWeeks: 3,
		Predictions: []forecast.WeekPrediction{
			{WeekStart: "2026-03-16", ExpectedCount: 120, ExpectedCountCI: [2]int{100, 140}, SpikeProbability: 0.45, Confidence: 0.6,
				TopSignals: []forecast.Signal{{SignalType: "tag", ID: "remote", Score: 0.5}, {SignalType: "cve", ID: "CVE-1", Score: 0.2}}},
			{WeekStart: "2026-03-09", ExpectedCount: 100, ExpectedCountCI: [2]int{90, 110}, SpikeProbability: 0.1, Confidence: 0.8,
				TopSignals: []forecast.Signal{{SignalType: "cve", ID: "CVE-1", Score: 0.6}}},
			{WeekStart: "2026-03-23", ExpectedCount: 150, ExpectedCountCI: [2]int{110, 190}, SpikeProbability: 0.9, Confidence: 0.4},
		},
		MonthlyPredictedAttacks: 370,
		PredictedThreatTypes:    []forecast.ThreatType{{ThreatType: "Remote", Probability: 0.4}},
		KeySignals:              []forecast.KeySignal{{Label: "CVE-1", Type: "cve", Score: 0.6}},
		Metadata:                map[string]any{"model": "gpt-4o-mini"},
	}
}

func TestRiskLevel(t *testing.T) {
	tests := []struct {
		p    float64
		want string
	}{
		{0, RiskLow}, {0.3, RiskLow}, {0.31, RiskMedium}, {0.6, RiskMedium}, {0.61, RiskHigh}, {1, RiskHigh},
	}
	for _, tt := range tests {
		if got := RiskLevel(tt.p); got != tt.want {
			t.Errorf("RiskLevel(%v) = %s, want %s", tt.p, got, tt.want)
		}
	}
}

func TestBuildCharts(t *testing.T) {
	c := BuildCharts(sampleForecast(), chartsNow)

	if c.HorizonWeeks != 3 || c.Stats.TotalPredictions != 3 || c.Stats.MonthlyPredictedAttacks != 370 {
		t.Errorf("unexpected header fields: %+v %+v", c.HorizonWeeks, c.Stats)
	}

	wantWeeks := []string{"2026-03-09", "2026-03-16", "2026-03-23"}
	for i, p := range c.Timeseries {
		if p.WeekStart != wantWeeks[i] {
			t.Errorf("timeseries[%d] = %s, want %s", i, p.WeekStart, wantWeeks[i])
		}
	}
	if c.Timeseries[0].CILower != 90 || c.Timeseries[0].CIUpper != 110 {
		t.Errorf("ci = %+v", c.Timeseries[0])
	}

	wantRisk := []string{RiskLow, RiskMedium, RiskHigh}
	for i, s := range c.SpikeRisk {
		if s.RiskLevel != wantRisk[i] {
			t.Errorf("spike_risk[%d] = %s, want %s", i, s.RiskLevel, wantRisk[i])
		}
	}

	if c.Confidence == nil {
		t.Fatal("expected confidence summary")
	}
	if math.Abs(c.Confidence.Avg-0.6) > 1e-9 || c.Confidence.Min != 0.4 || c.Confidence.Max != 0.8 {
		t.Errorf("confidence = %+v", *c.Confidence)
	}
	if math.Abs(c.Confidence.Std-0.2) > 1e-9 {
		t.Errorf("std = %v, want 0.2", c.Confidence.Std)
	}

	if len(c.Signals) != 2 {
		t.Fatalf("signals = %+v", c.Signals)
	}
	top := c.Signals[0]
	if top.SignalID != "CVE-1" || top.Frequency != 2 || math.Abs(top.TotalScore-0.8) > 1e-9 || math.Abs(top.AvgScore-0.4) > 1e-9 {
		t.Errorf("top signal = %+v", top)
	}

	line, ok := c.ChartConfigs["line_chart"]
	if !ok || len(line.Data.Labels) != 3 || len(line.Data.Datasets) != 3 {
		t.Errorf("line chart = %+v", line)
	}
	if bar := c.ChartConfigs["bar_chart"]; len(bar.Data.Datasets) != 1 || bar.Data.Datasets[0].Data[2] != 0.9 {
		t.Errorf("bar chart = %+v", bar)
	}
}

func TestBuildCharts_Empty(t *testing.T) {
	c := BuildCharts(forecast.Forecast{}, chartsNow)
	if c.Confidence != nil || len(c.ChartConfigs) != 0 || c.HorizonWeeks != 4 {
		t.Errorf("unexpected charts for empty forecast: %+v", c)
	}

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	if _, ok := m["timeseries"].([]any); !ok {
		t.Error("timeseries should encode as an empty list")
	}
}

func TestWriteCharts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charts.json")
	if err := WriteCharts(path, BuildCharts(sampleForecast(), chartsNow)); err != nil {
		t.Fatalf("WriteCharts error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got Charts
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Timeseries) != 3 || !got.GeneratedAt.Equal(chartsNow) {
		t.Errorf("round trip lost data: %+v", got)
	}
}
