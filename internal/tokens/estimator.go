// Package tokens estimates how many model tokens a prompt will consume.
package tokens

import (
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
	"go.uber.org/zap"
)

const (
	// ModeTiktoken counts with the exact BPE tokenizer when one can be loaded.
	ModeTiktoken = "tiktoken"
	// ModeHeuristic always uses the chars/4 approximation.
	ModeHeuristic = "heuristic"
)

// Counter is the estimation contract consumed by the forecast pipeline.
type Counter interface {
	Estimate(text, modelHint string) int
}

// Estimator counts tokens with tiktoken and silently falls back to the
// character heuristic when no codec is available. It is safe for concurrent use.
type Estimator struct {
	mode   string
	logger *zap.Logger

	mu       sync.Mutex
	codecs   map[string]tokenizer.Codec
	degraded bool
}

// New creates an Estimator. Unknown modes behave like ModeHeuristic.
func New(mode string, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mode != ModeTiktoken {
		mode = ModeHeuristic
	}
	return &Estimator{
		mode:   mode,
		logger: logger.Named("tokens"),
		codecs: make(map[string]tokenizer.Codec),
	}
}

// Estimate returns the token count of text for the model family named by
// modelHint. It never fails; an unavailable tokenizer only costs precision.
func (e *Estimator) Estimate(text, modelHint string) int {
	if e.mode != ModeTiktoken {
		return Heuristic(text)
	}
	codec := e.codec(modelHint)
	if codec == nil {
		return Heuristic(text)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return Heuristic(text)
	}
	return len(ids)
}

// Degraded reports whether any estimate fell back to the heuristic because
// no exact tokenizer could be loaded.
func (e *Estimator) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// Mode returns the configured estimation mode.
func (e *Estimator) Mode() string {
	return e.mode
}

// codec returns the cached codec for modelHint, loading it on first use.
// Unknown model names resolve to cl100k_base.
func (e *Estimator) codec(modelHint string) tokenizer.Codec {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.codecs[modelHint]; ok {
		return c
	}

	var c tokenizer.Codec
	var err error
	if modelHint != "" {
		c, err = tokenizer.ForModel(tokenizer.Model(modelHint))
	}
	if modelHint == "" || err != nil {
		c, err = tokenizer.Get(tokenizer.Cl100kBase)
	}
	if err != nil {
		if !e.degraded {
			e.logger.Debug("exact tokenizer unavailable, using heuristic", zap.Error(err))
		}
		e.degraded = true
		c = nil
	}
	e.codecs[modelHint] = c
	return c
}

// Heuristic approximates one token per four characters, never less than one.
func Heuristic(text string) int {
	n := utf8.RuneCountInString(text) / 4
	if n < 1 {
		return 1
	}
	return n
}
