// Package recovery turns free-form model output into a JSON object.
//
// Responses are tried against an ordered ladder of strategies, from a strict
// parse of the whole text up to auto-closing a truncated document. The first
// strategy that yields an object wins. When none does, the raw text is handed
// to a Sink for offline inspection and an *UnrecoverableError is returned.
package recovery

import (
	"errors"

	"go.uber.org/zap"
)

// Sink persists raw responses that could not be recovered.
type Sink interface {
	Save(raw string) (path string, err error)
}

// Recovered is a successfully decoded response.
type Recovered struct {
	Object   map[string]any
	Strategy string
}

// Engine runs the strategy ladder. It holds no per-call state and is safe for
// concurrent use if its Sink is.
type Engine struct {
	strategies []Strategy
	sink       Sink
	logger     *zap.Logger
}

// NewEngine creates an Engine with the default ladder. sink may be nil, in
// which case unrecoverable responses are not persisted.
func NewEngine(sink Sink, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		strategies: DefaultStrategies(),
		sink:       sink,
		logger:     logger.Named("recovery"),
	}
}

// Recover decodes raw into an object, trying each strategy in order.
func (e *Engine) Recover(raw string) (*Recovered, error) {
	var lastErr error
	for _, s := range e.strategies {
		obj, err := s.Try(raw)
		if err == nil {
			if s.Name != StrategyStrict {
				e.logger.Info("recovered model response", zap.String("strategy", s.Name))
			}
			return &Recovered{Object: obj, Strategy: s.Name}, nil
		}
		if !errors.Is(err, ErrNoCandidate) {
			lastErr = err
		}
		e.logger.Debug("strategy failed", zap.String("strategy", s.Name), zap.Error(err))
	}
	if lastErr == nil {
		lastErr = ErrNoCandidate
	}

	uerr := &UnrecoverableError{Err: lastErr, Snippet: snippet(raw)}
	if e.sink != nil {
		uerr.Path, uerr.SaveErr = e.sink.Save(raw)
	}
	switch {
	case uerr.SaveErr != nil:
		e.logger.Error("unrecoverable model response, could not save raw text",
			zap.Error(lastErr), zap.NamedError("save_error", uerr.SaveErr))
	case uerr.Path != "":
		e.logger.Error("unrecoverable model response", zap.String("path", uerr.Path), zap.Error(lastErr))
	default:
		e.logger.Error("unrecoverable model response, raw text not saved",
			zap.Int("length", len(raw)), zap.Error(lastErr))
	}
	return nil, uerr
}
