package forecast

import (
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/iyulab/threat-forecaster/internal/features"
	"github.com/iyulab/threat-forecaster/internal/tokens"
)

// List sizes kept per record during normal compression and at the floor.
const (
	trimCVEs, trimTags, trimCountries    = 3, 5, 3
	floorCVEs, floorTags, floorCountries = 1, 2, 1
)

// Compression is the outcome of fitting records into the input budget.
type Compression struct {
	Records     []features.WeeklyRecord
	Compact     bool // records must be rendered as compact JSON
	Keep        int  // recent weeks kept verbatim, 0 when nothing was compressed
	InputChars  int
	InputTokens int
	// Exhausted is set when the budget could not be met even after the most
	// aggressive trimming. The records are still the smallest version found.
	Exhausted bool
}

// Compressor shrinks weekly records until their prompt fits the budget.
// Recent weeks carry the strongest signal and are never summarised; older
// weeks collapse into a single history bucket.
type Compressor struct {
	budget  Budget
	counter tokens.Counter
	model   string
	horizon int
	logger  *zap.Logger
}

// NewCompressor creates a Compressor. model is the tokenizer hint and
// horizon the forecast horizon rendered into the prompt.
func NewCompressor(budget Budget, counter tokens.Counter, model string, horizon int, logger *zap.Logger) *Compressor {
	if counter == nil {
		counter = tokens.New(tokens.ModeHeuristic, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if budget.KeepRecentWeeks < 1 {
		budget.KeepRecentWeeks = 1
	}
	return &Compressor{
		budget:  budget,
		counter: counter,
		model:   model,
		horizon: horizon,
		logger:  logger.Named("compress"),
	}
}

// Measure renders records into the user prompt and counts its tokens.
func (c *Compressor) Measure(records []features.WeeklyRecord, compact bool) (chars, toks int, err error) {
	user, err := UserPrompt(records, c.horizon, compact)
	if err != nil {
		return 0, 0, err
	}
	return utf8.RuneCountInString(user), c.counter.Estimate(user, c.model), nil
}

// Compress returns records that fit the budget, or the smallest version it
// can build. Input that already fits is returned unchanged. The input slice
// is never modified.
func (c *Compressor) Compress(records []features.WeeklyRecord) (Compression, error) {
	limit := c.budget.MaxInputTokens

	chars, toks, err := c.Measure(records, false)
	if err != nil {
		return Compression{}, err
	}
	if toks <= limit || len(records) == 0 {
		return Compression{Records: records, InputChars: chars, InputTokens: toks}, nil
	}
	// Compact rendering alone may be enough.
	if cchars, ctoks, err := c.Measure(records, true); err == nil && ctoks <= limit {
		return Compression{Records: records, Compact: true, InputChars: cchars, InputTokens: ctoks}, nil
	}

	c.logger.Info("input over budget, compressing",
		zap.Int("tokens", toks), zap.Int("max_input_tokens", limit), zap.Int("records", len(records)))

	var out []features.WeeklyRecord
	for keep := c.budget.KeepRecentWeeks; keep >= 1; keep-- {
		out = shrink(records, keep)
		chars, toks, err = c.Measure(out, true)
		if err != nil {
			return Compression{}, err
		}
		c.logger.Debug("compressed",
			zap.Int("keep_recent_weeks", keep), zap.Int("records", len(out)), zap.Int("tokens", toks))
		if toks <= limit {
			return Compression{Records: out, Compact: true, Keep: keep, InputChars: chars, InputTokens: toks}, nil
		}
	}

	for i := range out {
		out[i].Truncate(floorCVEs, floorTags, floorCountries)
	}
	chars, toks, err = c.Measure(out, true)
	if err != nil {
		return Compression{}, err
	}
	exhausted := toks > limit
	if exhausted {
		c.logger.Warn("budget not met after maximal compression",
			zap.Int("tokens", toks), zap.Int("max_input_tokens", limit))
	}
	return Compression{
		Records:     out,
		Compact:     true,
		Keep:        1,
		InputChars:  chars,
		InputTokens: toks,
		Exhausted:   exhausted,
	}, nil
}

// shrink keeps the last keep records verbatim, folds the rest into one
// summary placed before them, and trims every record's top lists. Short
// inputs are only trimmed.
func shrink(records []features.WeeklyRecord, keep int) []features.WeeklyRecord {
	var out []features.WeeklyRecord
	if len(records) <= keep+1 {
		out = features.CloneAll(records)
	} else {
		split := len(records) - keep
		recent := records[split:]
		out = make([]features.WeeklyRecord, 0, keep+1)
		out = append(out, features.Summarize(records[:split], recent[0].WeekStart))
		out = append(out, features.CloneAll(recent)...)
	}
	for i := range out {
		out[i].Truncate(trimCVEs, trimTags, trimCountries)
	}
	return out
}
