package forecast

import (
	"math"
	"strconv"
	"strings"
)

// Document is a forecast in its free-form JSON object shape, as recovered
// from the model and completed by the PostProcessor.
type Document map[string]any

// Top-level and prediction field names.
const (
	FieldHorizonWeeks   = "forecast_horizon_weeks"
	FieldPredictions    = "predictions"
	FieldThreatTypes    = "predicted_threat_types"
	FieldMonthlyAttacks = "monthly_predicted_attacks"
	FieldKeySignals     = "key_signals_user_friendly"
	FieldMetadata       = "metadata"
	FieldGeneratedAt    = "forecast_generated_at_utc"
)

// Signal is one driver of a weekly prediction.
type Signal struct {
	SignalType string  `json:"signal_type"`
	ID         string  `json:"id"`
	Score      float64 `json:"score"`
}

// WeekPrediction is the forecast for one upcoming week.
type WeekPrediction struct {
	WeekStart        string   `json:"week_start"`
	ExpectedCount    int      `json:"expected_count"`
	ExpectedCountCI  [2]int   `json:"expected_count_ci"`
	SpikeProbability float64  `json:"spike_probability"`
	TopSignals       []Signal `json:"top_signals"`
	Confidence       float64  `json:"confidence"`
	Explanation      string   `json:"explanation,omitempty"`
}

// ThreatType is one entry of the predicted threat-type distribution.
type ThreatType struct {
	ThreatType  string  `json:"threat_type"`
	Probability float64 `json:"probability"`
}

// KeySignal is a display-ready signal.
type KeySignal struct {
	Label string  `json:"label"`
	Type  string  `json:"type"`
	Score float64 `json:"score"`
}

// Forecast is a typed view of a Document.
type Forecast struct {
	HorizonWeeks            int              `json:"forecast_horizon_weeks"`
	Predictions             []WeekPrediction `json:"predictions"`
	PredictedThreatTypes    []ThreatType     `json:"predicted_threat_types"`
	MonthlyPredictedAttacks int              `json:"monthly_predicted_attacks"`
	KeySignals              []KeySignal      `json:"key_signals_user_friendly"`
	Metadata                map[string]any   `json:"metadata"`
}

// Parse builds a typed view of doc. It is lenient: numbers may be JSON
// numbers or numeric strings, confidence intervals are reordered so that
// lower <= upper, probabilities are clamped to [0, 1], and entries of the
// wrong shape are skipped.
func Parse(doc Document) Forecast {
	f := Forecast{
		HorizonWeeks:            toInt(doc[FieldHorizonWeeks]),
		MonthlyPredictedAttacks: toInt(doc[FieldMonthlyAttacks]),
	}
	if m, ok := doc[FieldMetadata].(map[string]any); ok {
		f.Metadata = m
	}

	for _, p := range objectList(doc[FieldPredictions]) {
		wp := WeekPrediction{
			WeekStart:        toString(p["week_start"]),
			ExpectedCount:    max(toInt(p["expected_count"]), 0),
			SpikeProbability: clamp01(toFloat(p["spike_probability"])),
			Confidence:       clamp01(toFloat(p["confidence"])),
			Explanation:      toString(p["explanation"]),
			TopSignals:       parseSignals(p["top_signals"]),
		}
		if ci, ok := p["expected_count_ci"].([]any); ok && len(ci) >= 2 {
			lo, hi := toInt(ci[0]), toInt(ci[1])
			if lo > hi {
				lo, hi = hi, lo
			}
			wp.ExpectedCountCI = [2]int{lo, hi}
		} else {
			wp.ExpectedCountCI = [2]int{wp.ExpectedCount, wp.ExpectedCount}
		}
		f.Predictions = append(f.Predictions, wp)
	}

	for _, t := range objectList(doc[FieldThreatTypes]) {
		f.PredictedThreatTypes = append(f.PredictedThreatTypes, ThreatType{
			ThreatType:  toString(t["threat_type"]),
			Probability: clamp01(toFloat(t["probability"])),
		})
	}
	for _, k := range objectList(doc[FieldKeySignals]) {
		f.KeySignals = append(f.KeySignals, KeySignal{
			Label: toString(k["label"]),
			Type:  toString(k["type"]),
			Score: toFloat(k["score"]),
		})
	}
	return f
}

func parseSignals(v any) []Signal {
	var out []Signal
	for _, s := range objectList(v) {
		out = append(out, Signal{
			SignalType: toString(s["signal_type"]),
			ID:         toString(s["id"]),
			Score:      toFloat(s["score"]),
		})
	}
	return out
}

// objectList returns the object elements of a JSON array value.
func objectList(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// toFloat converts a JSON number, Go number or numeric string; anything
// else is 0.
func toFloat(v any) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		f = p
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// toInt truncates like an integer conversion of the numeric value.
func toInt(v any) int {
	return int(toFloat(v))
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
