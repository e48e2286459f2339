package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff"
	"github.com/openai/openai-go"
	"go.uber.org/zap"
)

// Retrying wraps a Provider with exponential backoff. Client errors other
// than timeouts and rate limits are not retried, nor is a cancelled context.
type Retrying struct {
	provider   Provider
	maxRetries uint64
	initial    time.Duration
	logger     *zap.Logger
}

// WithRetry retries p up to maxRetries times after the first attempt.
func WithRetry(p Provider, maxRetries int, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{
		provider:   p,
		maxRetries: uint64(max(maxRetries, 0)),
		initial:    2 * time.Second,
		logger:     logger.Named("llm"),
	}
}

// SetFormat forwards to the wrapped provider when it supports schemas.
func (r *Retrying) SetFormat(schema map[string]interface{}) {
	if fs, ok := r.provider.(FormatSetter); ok {
		fs.SetFormat(schema)
	}
}

func (r *Retrying) Complete(ctx context.Context, system, user string) (string, error) {
	// WithMaxRetries treats 0 as unlimited.
	if r.maxRetries == 0 {
		return r.provider.Complete(ctx, system, user)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initial
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	var out string
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		text, err := r.provider.Complete(ctx, system, user)
		if err != nil {
			if permanent(ctx, err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = text
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, r.maxRetries), ctx), func(err error, wait time.Duration) {
		r.logger.Warn("model call failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func permanent(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return true
	}
	status := 0
	var oerr *openai.Error
	var aerr *anthropic.Error
	switch {
	case errors.As(err, &oerr):
		status = oerr.StatusCode
	case errors.As(err, &aerr):
		status = aerr.StatusCode
	default:
		return false
	}
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}
