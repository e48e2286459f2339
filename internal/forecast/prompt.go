package forecast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iyulab/threat-forecaster/internal/features"
)

// PromptBuilder renders feature records into the system and user prompts.
// The zero value is usable.
type PromptBuilder struct {
	IncludeExplanation bool
	SpikeThresholdPct  float64 // defaults to 0.20
}

// BuildPrompt renders records with the default PromptBuilder.
func BuildPrompt(records []features.WeeklyRecord, horizonWeeks int, compact bool) (system, user string, err error) {
	return PromptBuilder{}.Build(records, horizonWeeks, compact)
}

// Build returns the system and user prompts. It is deterministic for
// identical inputs.
func (b PromptBuilder) Build(records []features.WeeklyRecord, horizonWeeks int, compact bool) (system, user string, err error) {
	user, err = UserPrompt(records, horizonWeeks, compact)
	if err != nil {
		return "", "", err
	}
	return b.System(), user, nil
}

// UserPrompt embeds the serialized records in the fixed instructions.
func UserPrompt(records []features.WeeklyRecord, horizonWeeks int, compact bool) (string, error) {
	data, err := marshalRecords(records, compact)
	if err != nil {
		return "", fmt.Errorf("marshal feature records: %w", err)
	}
	return fmt.Sprintf(userTemplate, horizonWeeks, horizonWeeks, data, horizonWeeks), nil
}

const userTemplate = `Input: aggregated worldwide threat intelligence records (weekly) for forecast_horizon_weeks = %d.
Analyze threat trends and provide forecasts for the next %d weeks.

Historical Data (recent weeks):
%s

Return JSON exactly following the schema with predictions for the NEXT %d weeks.`

func marshalRecords(records []features.WeeklyRecord, compact bool) (string, error) {
	if records == nil {
		records = []features.WeeklyRecord{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if !compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(records); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// System returns the system prompt: the output schema, what the model must
// not emit, and the instruction to date predictions from today.
func (b PromptBuilder) System() string {
	threshold := b.SpikeThresholdPct
	if threshold <= 0 {
		threshold = 0.20
	}

	var sb strings.Builder
	sb.WriteString("You are an expert cyber-threat forecaster analyzing worldwide threat intelligence data. " +
		"Output MUST be valid JSON following the provided schema. Use only the supplied input features; do not invent external facts.\n\n")

	sb.WriteString("For each weekly forecast, return:\n" +
		"- week_start (YYYY-MM-DD): start date of the forecast week\n" +
		"- expected_count (integer >= 0): predicted number of threats\n" +
		"- expected_count_ci [lower, upper]: 90% confidence interval, lower <= upper\n" +
		"- spike_probability (0..1): likelihood of a significant week-over-week spike\n" +
		"- top_signals: up to 5 objects {signal_type, id, score} (signal_type is cve, tag or country) driving the forecast, scores summing <= 1\n")
	if b.IncludeExplanation {
		sb.WriteString("- explanation (brief): 1-2 short sentences max (optional)\n")
	}
	sb.WriteString("- confidence (0..1): forecast confidence level\n\n")

	sb.WriteString("Strict rules:\n" +
		"- Do NOT include any 'revision', 'notes', or free-form commentary fields.\n" +
		"- Do NOT include a 'region' field in the prediction objects.\n")
	if !b.IncludeExplanation {
		sb.WriteString("- Do NOT include an 'explanation' field.\n")
	}
	sb.WriteString("- Return only the JSON described (no preface, no markdown fences, no surrounding text).\n\n")

	sb.WriteString("Also include these top-level summary fields:\n" +
		"- forecast_horizon_weeks (integer): number of weeks forecast\n" +
		"- predicted_threat_types: list of {\"threat_type\":\"<name>\", \"probability\":0.0} with probabilities summing <= 1\n" +
		"- monthly_predicted_attacks (integer): expected number of attacks across the next 4 weeks\n" +
		"- key_signals_user_friendly: up to 8 {label, type, score} descriptors for display, scores summing <= 1\n" +
		"- metadata: object with model details\n\n")

	sb.WriteString("When assigning week_start values, use upcoming calendar weeks beginning from today's UTC date. " +
		"Do NOT echo or derive week_start values from the historical input dates.\n\n")

	sb.WriteString("Example:\n")
	fmt.Fprintf(&sb, `{
  "forecast_horizon_weeks": 4,
  "predictions": [
    {
      "week_start": "2025-11-10",
      "expected_count": 1250,
      "expected_count_ci": [1050, 1450],
      "spike_probability": 0.32,
      "spike_threshold_pct": %.2f,
      "top_signals": [
        {"signal_type":"cve","id":"CVE-2009-0796","score":0.34},
        {"signal_type":"tag","id":"remote","score":0.21}
      ],
`, threshold)
	if b.IncludeExplanation {
		sb.WriteString(`      "explanation": "Rising activity on older Apache CVEs.",` + "\n")
	}
	sb.WriteString(`      "confidence": 0.72
    }
  ],
  "predicted_threat_types": [{"threat_type":"Injection","probability":0.32}],
  "monthly_predicted_attacks": 1250,
  "key_signals_user_friendly": [{"label":"CVE-2009-0796","type":"cve","score":0.34}],
  "metadata": {"aggregation_method": "weekly_count"}
}`)
	return sb.String()
}
