package forecast

import (
	"math"

	"github.com/iyulab/threat-forecaster/internal/config"
)

// Budget bounds the size and cost of a forecast request.
type Budget struct {
	MaxInputTokens       int
	ExpectedOutputTokens int
	PricePer1K           float64
	KeepRecentWeeks      int
}

// DefaultBudget returns the budget used when nothing is configured.
func DefaultBudget() Budget {
	return BudgetFromConfig(config.Default().Budget)
}

// BudgetFromConfig converts the [budget] config section. Non-positive
// values fall back to the defaults.
func BudgetFromConfig(c config.BudgetConfig) Budget {
	b := Budget{
		MaxInputTokens:       c.MaxInputTokens,
		ExpectedOutputTokens: c.ExpectedOutputTokens,
		PricePer1K:           c.PricePer1K,
		KeepRecentWeeks:      c.KeepRecentWeeks,
	}
	if b.MaxInputTokens <= 0 {
		b.MaxInputTokens = 400
	}
	if b.ExpectedOutputTokens <= 0 {
		b.ExpectedOutputTokens = 300
	}
	if b.PricePer1K < 0 {
		b.PricePer1K = 0.03
	}
	if b.KeepRecentWeeks < 1 {
		b.KeepRecentWeeks = 1
	}
	return b
}

// Estimate is the token and cost estimate of one request.
type Estimate struct {
	FeatureRecordsCount   int     `json:"feature_records_count"`
	InputChars            int     `json:"input_chars"`
	EstimatedInputTokens  int     `json:"estimated_input_tokens"`
	EstimatedOutputTokens int     `json:"estimated_output_tokens"`
	EstimatedTotalTokens  int     `json:"estimated_total_tokens"`
	EstimatedCostUSD      float64 `json:"estimated_cost_usd"`
}

// NewEstimate prices a request of inputTokens against the budget.
func (b Budget) NewEstimate(records, inputChars, inputTokens int) Estimate {
	total := inputTokens + b.ExpectedOutputTokens
	cost := float64(total) / 1000 * b.PricePer1K
	return Estimate{
		FeatureRecordsCount:   records,
		InputChars:            inputChars,
		EstimatedInputTokens:  inputTokens,
		EstimatedOutputTokens: b.ExpectedOutputTokens,
		EstimatedTotalTokens:  total,
		EstimatedCostUSD:      math.Round(cost*1e6) / 1e6,
	}
}
