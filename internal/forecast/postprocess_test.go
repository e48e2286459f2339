package forecast

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeDoc(t *testing.T, s string) Document {
	t.Helper()
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(s), &doc))
	return doc
}

func sumFloats(t *testing.T, list any, field string) float64 {
	t.Helper()
	total := 0.0
	for _, item := range list.([]any) {
		total += item.(map[string]any)[field].(float64)
	}
	return total
}

// 02:00 in UTC+9 is still the previous day in UTC.
var processNow = time.Date(2026, 3, 12, 2, 0, 0, 0, time.FixedZone("KST", 9*3600))

func TestProcess_ForcesWeekStarts(t *testing.T) {
	doc := decodeDoc(t, `{"predictions":[
		{"week_start":"2019-05-06","expected_count":1},
		{"week_start":"2019-05-06","expected_count":2},
		{"expected_count":3},
		{"week_start":"garbage","expected_count":4}
	]}`)

	out := NewPostProcessor(4, nil).Process(doc, processNow)

	want := []string{"2026-03-11", "2026-03-18", "2026-03-25", "2026-04-01"}
	preds := out[FieldPredictions].([]any)
	require.Len(t, preds, len(want))
	var prev time.Time
	for i, p := range preds {
		ws := p.(map[string]any)["week_start"].(string)
		assert.Equal(t, want[i], ws)
		d, err := time.Parse(time.DateOnly, ws)
		require.NoError(t, err)
		if i > 0 {
			assert.Equal(t, 7*24*time.Hour, d.Sub(prev))
		}
		prev = d
	}
}

func TestProcess_FencedScenarioDefaults(t *testing.T) {
	doc := decodeDoc(t, `{"forecast_horizon_weeks":4,"predictions":[]}`)
	out := NewPostProcessor(4, nil).Process(doc, processNow)

	assert.Equal(t, 0, out[FieldMonthlyAttacks])
	assert.Equal(t, []any{}, out[FieldThreatTypes])
	assert.Equal(t, []any{}, out[FieldKeySignals])
	assert.Equal(t, float64(4), out[FieldHorizonWeeks])

	meta := out[FieldMetadata].(map[string]any)
	assert.Equal(t, "2026-03-11T17:00:00Z", meta[FieldGeneratedAt])

	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"predicted_threat_types":[]`)
}

func TestProcess_MonthlyAttacks(t *testing.T) {
	doc := decodeDoc(t, `{"predictions":[
		{"expected_count":10},
		{"expected_count":"20"},
		{"expected_count":30.7},
		{"expected_count":null},
		{"expected_count":50}
	]}`)
	out := NewPostProcessor(0, nil).Process(doc, processNow)

	assert.Equal(t, 60, out[FieldMonthlyAttacks])
	assert.Equal(t, 5, out[FieldHorizonWeeks])
}

func TestProcess_ThreatTypes(t *testing.T) {
	doc := decodeDoc(t, `{"predictions":[
		{"top_signals":[
			{"signal_type":"tag","id":"remote","score":0.4},
			{"signal_type":"cve","id":"CVE-2024-1","score":0.3}
		]},
		{"top_signals":[
			{"signal_type":"tag","id":"remote","score":0.1},
			{"signal_type":"country","id":"US","score":0.2}
		]}
	]}`)
	out := NewPostProcessor(2, nil).Process(doc, processNow)

	want := []any{
		map[string]any{"threat_type": "Remote", "probability": 0.5},
		map[string]any{"threat_type": "CVE", "probability": 0.3},
		map[string]any{"threat_type": "Country", "probability": 0.2},
	}
	assert.Equal(t, want, out[FieldThreatTypes])
	assert.InDelta(t, 1.0, sumFloats(t, out[FieldThreatTypes], "probability"), 1e-6)
}

func TestProcess_ProbabilitiesNeverExceedOne(t *testing.T) {
	doc := decodeDoc(t, `{"predictions":[{"top_signals":[
		{"signal_type":"tag","id":"a","score":1},
		{"signal_type":"tag","id":"b","score":1},
		{"signal_type":"tag","id":"c","score":1},
		{"signal_type":"tag","id":"d","score":1},
		{"signal_type":"tag","id":"e","score":1},
		{"signal_type":"tag","id":"f","score":1}
	]}]}`)
	out := NewPostProcessor(1, nil).Process(doc, processNow)

	assert.LessOrEqual(t, sumFloats(t, out[FieldThreatTypes], "probability"), 1.0+1e-6)
	assert.LessOrEqual(t, sumFloats(t, out[FieldKeySignals], "score"), 1.0+1e-6)
}

func TestNormalize(t *testing.T) {
	got := normalize([]float64{1, 1, 1, 1, 1, 1})
	assert.Equal(t, 0.165, got[0])
	for _, p := range got[1:] {
		assert.Equal(t, 0.167, p)
	}

	assert.Equal(t, []float64{0, 0}, normalize([]float64{0, 0}))
	assert.Empty(t, normalize(nil))
	assert.Equal(t, []float64{0, 0.5, 0.5}, normalize([]float64{-1, 1, 1}))
	assert.Equal(t, []float64{0, 0}, normalize([]float64{-2, 0}))
}

func TestProcess_NegativeScoresCountAsZero(t *testing.T) {
	doc := decodeDoc(t, `{"predictions":[{"top_signals":[
		{"signal_type":"tag","id":"remote","score":0.6},
		{"signal_type":"tag","id":"local","score":-0.4},
		{"signal_type":"cve","id":"CVE-2024-1","score":0.4}
	]}]}`)
	out := NewPostProcessor(1, nil).Process(doc, processNow)

	for _, field := range []struct{ name, key string }{
		{FieldThreatTypes, "probability"},
		{FieldKeySignals, "score"},
	} {
		list := out[field.name].([]any)
		require.Len(t, list, 3, field.name)
		for _, item := range list {
			assert.GreaterOrEqual(t, item.(map[string]any)[field.key].(float64), 0.0, field.name)
		}
		assert.InDelta(t, 1.0, sumFloats(t, list, field.key), 1e-6, field.name)
	}

	top := out[FieldThreatTypes].([]any)[0].(map[string]any)
	assert.Equal(t, "Remote", top["threat_type"])
	assert.Equal(t, 0.6, top["probability"])
}

func TestProcess_KeySignals(t *testing.T) {
	doc := decodeDoc(t, `{"predictions":[
		{"top_signals":[
			{"signal_type":"cve","id":"CVE-2009-0796","score":0.3},
			{"signal_type":"tag","id":"privilege-escalation","score":0.2},
			{"signal_type":"tag","id":"t1","score":0.01},
			{"signal_type":"tag","id":"t2","score":0.01},
			{"signal_type":"tag","id":"t3","score":0.01}
		]},
		{"top_signals":[
			{"signal_type":"cve","id":"CVE-2009-0796","score":0.3},
			{"signal_type":"tag","id":"t4","score":0.01},
			{"signal_type":"tag","id":"t5","score":0.01},
			{"signal_type":"tag","id":"t6","score":0.01},
			{"signal_type":"tag","id":"t7","score":0.01},
			{"signal_type":"tag","id":"t8","score":0.001}
		]}
	]}`)
	out := NewPostProcessor(2, nil).Process(doc, processNow)

	chips := out[FieldKeySignals].([]any)
	require.Len(t, chips, maxKeySignals)
	first := chips[0].(map[string]any)
	assert.Equal(t, "CVE-2009-0796", first["label"])
	assert.Equal(t, "cve", first["type"])
	second := chips[1].(map[string]any)
	assert.Equal(t, "Privilege Escalation", second["label"])
	assert.InDelta(t, 1.0, sumFloats(t, chips, "score"), 1e-6)

	for _, c := range chips {
		assert.NotEqual(t, "T8", c.(map[string]any)["label"])
	}
}

func TestProcess_ZeroScoreSignals(t *testing.T) {
	doc := decodeDoc(t, `{"predictions":[{"top_signals":[{"signal_type":"tag","id":"x","score":0}]}]}`)
	out := NewPostProcessor(1, nil).Process(doc, processNow)

	assert.Equal(t, []any{}, out[FieldThreatTypes])
	chips := out[FieldKeySignals].([]any)
	require.Len(t, chips, 1)
	assert.Equal(t, 0.0, chips[0].(map[string]any)["score"])
}

func TestProcess_KeepsExistingFields(t *testing.T) {
	doc := decodeDoc(t, `{
		"predictions":[{"expected_count":5,"top_signals":[{"signal_type":"tag","id":"dos","score":1}]}],
		"monthly_predicted_attacks": 999,
		"predicted_threat_types": [{"threat_type":"Custom","probability":1}],
		"key_signals_user_friendly": [],
		"metadata": {"model": "m"}
	}`)
	out := NewPostProcessor(1, nil).Process(doc, processNow)

	assert.Equal(t, float64(999), out[FieldMonthlyAttacks])
	assert.Len(t, out[FieldThreatTypes], 1)
	assert.Equal(t, []any{}, out[FieldKeySignals])
	meta := out[FieldMetadata].(map[string]any)
	assert.Equal(t, "m", meta["model"])
	assert.Contains(t, meta, FieldGeneratedAt)
}

func TestProcess_StepFailureIsIsolated(t *testing.T) {
	doc := decodeDoc(t, `{
		"predictions":[{"expected_count":7,"top_signals":[{"signal_type":"tag","id":"xss","score":1}]}],
		"metadata": "not an object"
	}`)

	var out Document
	require.NotPanics(t, func() { out = NewPostProcessor(1, nil).Process(doc, processNow) })

	assert.Equal(t, "not an object", out[FieldMetadata])
	assert.Equal(t, 7, out[FieldMonthlyAttacks])
	assert.Len(t, out[FieldThreatTypes], 1)
	assert.Equal(t, "2026-03-11", out[FieldPredictions].([]any)[0].(map[string]any)["week_start"])
}

func TestProcess_NilAndMalformed(t *testing.T) {
	out := NewPostProcessor(3, nil).Process(nil, processNow)
	assert.Equal(t, []any{}, out[FieldPredictions])
	assert.Equal(t, 3, out[FieldHorizonWeeks])

	out = NewPostProcessor(3, nil).Process(Document{FieldPredictions: "oops"}, processNow)
	assert.Equal(t, "oops", out[FieldPredictions])
	assert.Equal(t, 0, out[FieldMonthlyAttacks])
	assert.Equal(t, []any{}, out[FieldThreatTypes])
}
