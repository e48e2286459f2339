package forecast

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	monthWeeks     = 4
	maxKeySignals  = 8
	signalTypeCVE  = "cve"
	signalTypeTag  = "tag"
	cveThreatLabel = "CVE"
)

// PostProcessor completes a recovered forecast: it derives summary fields
// the model left out and pins prediction weeks to the calendar.
type PostProcessor struct {
	horizon int
	logger  *zap.Logger
}

// NewPostProcessor creates a PostProcessor. horizon fills a missing
// forecast_horizon_weeks; 0 uses the number of predictions.
func NewPostProcessor(horizon int, logger *zap.Logger) *PostProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostProcessor{horizon: horizon, logger: logger.Named("postprocess")}
}

type step struct {
	name string
	fn   func(doc Document, now time.Time)
}

// Process fills derived fields in doc and returns it. It never fails: each
// step runs in isolation and a step that breaks leaves its field as it was.
func (p *PostProcessor) Process(doc Document, now time.Time) Document {
	if doc == nil {
		doc = Document{}
	}
	steps := []step{
		{"horizon", p.fillHorizon},
		{FieldMonthlyAttacks, fillMonthlyAttacks},
		{FieldThreatTypes, fillThreatTypes},
		{FieldKeySignals, fillKeySignals},
		{"week_start", forceWeekStarts},
		{FieldGeneratedAt, stampGeneratedAt},
	}
	for _, s := range steps {
		p.run(s, doc, now)
	}
	return doc
}

func (p *PostProcessor) run(s step, doc Document, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("post-process step failed", zap.String("step", s.name), zap.String("panic", fmt.Sprint(r)))
		}
	}()
	s.fn(doc, now)
}

func (p *PostProcessor) fillHorizon(doc Document, _ time.Time) {
	if _, ok := doc[FieldPredictions]; !ok {
		doc[FieldPredictions] = []any{}
	}
	if _, ok := doc[FieldHorizonWeeks]; ok {
		return
	}
	if p.horizon > 0 {
		doc[FieldHorizonWeeks] = p.horizon
		return
	}
	doc[FieldHorizonWeeks] = len(predictionList(doc))
}

// fillMonthlyAttacks sums expected_count over the first four weeks.
func fillMonthlyAttacks(doc Document, _ time.Time) {
	if _, ok := doc[FieldMonthlyAttacks]; ok {
		return
	}
	total := 0
	for i, p := range predictionList(doc) {
		if i == monthWeeks {
			break
		}
		if m, ok := p.(map[string]any); ok {
			total += toInt(m["expected_count"])
		}
	}
	doc[FieldMonthlyAttacks] = total
}

// weighted accumulates scores per key in first-seen order.
type weighted struct {
	keys   []string
	scores map[string]float64
}

func (w *weighted) add(key string, score float64) {
	if w.scores == nil {
		w.scores = make(map[string]float64)
	}
	if _, ok := w.scores[key]; !ok {
		w.keys = append(w.keys, key)
	}
	w.scores[key] += score
}

// ranked returns keys by descending score, first-seen first on ties.
func (w *weighted) ranked() []string {
	keys := append([]string{}, w.keys...)
	sort.SliceStable(keys, func(i, j int) bool { return w.scores[keys[i]] > w.scores[keys[j]] })
	return keys
}

// fillThreatTypes derives a threat-type distribution from the weekly signals:
// tags by name, any CVE as "CVE", other signals by their type.
func fillThreatTypes(doc Document, _ time.Time) {
	if _, ok := doc[FieldThreatTypes]; ok {
		return
	}
	title := cases.Title(language.Und)

	var acc weighted
	total := 0.0
	for _, s := range allSignals(doc) {
		var key string
		switch {
		case s.SignalType == signalTypeTag && s.ID != "":
			key = title.String(s.ID)
		case s.SignalType == signalTypeCVE && s.ID != "":
			key = cveThreatLabel
		case s.SignalType != "":
			key = title.String(s.SignalType)
		default:
			continue
		}
		acc.add(key, s.Score)
		total += s.Score
	}

	out := []any{}
	if total > 0 {
		keys := acc.ranked()
		weights := make([]float64, len(keys))
		for i, k := range keys {
			weights[i] = acc.scores[k]
		}
		for i, p := range normalize(weights) {
			out = append(out, map[string]any{"threat_type": keys[i], "probability": p})
		}
	}
	doc[FieldThreatTypes] = out
}

// fillKeySignals merges signals by (type, id) into at most eight labelled
// chips whose scores sum to one.
func fillKeySignals(doc Document, _ time.Time) {
	if _, ok := doc[FieldKeySignals]; ok {
		return
	}
	title := cases.Title(language.Und)

	var acc weighted
	labels := make(map[string]KeySignal)
	for _, s := range allSignals(doc) {
		key := s.SignalType + "\x00" + s.ID
		if _, ok := labels[key]; !ok {
			label := s.ID
			switch {
			case s.SignalType == signalTypeCVE && s.ID != "":
			case s.SignalType == signalTypeTag && s.ID != "":
				label = title.String(strings.ReplaceAll(s.ID, "-", " "))
			case s.ID == "":
				label = s.SignalType
			}
			labels[key] = KeySignal{Label: label, Type: s.SignalType}
		}
		acc.add(key, s.Score)
	}

	keys := acc.ranked()
	if len(keys) > maxKeySignals {
		keys = keys[:maxKeySignals]
	}
	weights := make([]float64, len(keys))
	for i, k := range keys {
		weights[i] = acc.scores[k]
	}

	out := []any{}
	for i, score := range normalize(weights) {
		ks := labels[keys[i]]
		out = append(out, map[string]any{"label": ks.Label, "type": ks.Type, "score": score})
	}
	doc[FieldKeySignals] = out
}

// forceWeekStarts overwrites week_start so predictions run in consecutive
// weeks from today (UTC), whatever the model emitted.
func forceWeekStarts(doc Document, now time.Time) {
	y, m, d := now.UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for i, p := range predictionList(doc) {
		if pm, ok := p.(map[string]any); ok {
			pm["week_start"] = today.AddDate(0, 0, 7*i).Format(time.DateOnly)
		}
	}
}

func stampGeneratedAt(doc Document, now time.Time) {
	meta, ok := doc[FieldMetadata].(map[string]any)
	if !ok {
		if doc[FieldMetadata] != nil {
			panic(fmt.Sprintf("metadata is %T, not an object", doc[FieldMetadata]))
		}
		meta = map[string]any{}
	}
	meta[FieldGeneratedAt] = now.UTC().Format(time.RFC3339)
	doc[FieldMetadata] = meta
}

func predictionList(doc Document) []any {
	list, _ := doc[FieldPredictions].([]any)
	return list
}

// allSignals flattens top_signals across predictions in order. Negative
// scores count as zero.
func allSignals(doc Document) []Signal {
	var out []Signal
	for _, p := range predictionList(doc) {
		if pm, ok := p.(map[string]any); ok {
			for _, s := range parseSignals(pm["top_signals"]) {
				s.Score = max(s.Score, 0)
				out = append(out, s)
			}
		}
	}
	return out
}

// normalize scales weights to sum to one, rounded to three places. Rounding
// overshoot is taken off the largest entry so the sum never exceeds one.
// Negative weights count as zero and a zero total leaves the weights unscaled.
func normalize(weights []float64) []float64 {
	total := 0.0
	for _, w := range weights {
		total += max(w, 0)
	}
	if total == 0 {
		total = 1
	}

	out := make([]float64, len(weights))
	sum := 0.0
	largest := 0
	for i, w := range weights {
		out[i] = round3(max(w, 0) / total)
		sum += out[i]
		if out[i] > out[largest] {
			largest = i
		}
	}
	if len(out) > 0 && sum > 1 {
		out[largest] = round3(out[largest] - (sum - 1))
	}
	return out
}
