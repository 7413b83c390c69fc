package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go"
)

// Retrying retries transient transport failures with exponential backoff.
type Retrying struct {
	inner    Provider
	maxTries uint
	initial  time.Duration
	maxWait  time.Duration
	logger   *slog.Logger
}

// NewRetrying wraps inner. maxTries counts the first call; values below 1 mean a single try.
func NewRetrying(inner Provider, maxTries uint, initial, maxWait time.Duration, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Retrying{
		inner:    inner,
		maxTries: max(maxTries, 1),
		initial:  initial,
		maxWait:  maxWait,
		logger:   logger,
	}
}

// Name implements Provider.
func (r *Retrying) Name() string { return r.inner.Name() }

// Available implements Provider.
func (r *Retrying) Available(ctx context.Context) bool { return r.inner.Available(ctx) }

// Generate calls the wrapped provider until it succeeds, returns a permanent
// error, or the try budget is spent.
func (r *Retrying) Generate(ctx context.Context, prompt string, opts Options) (*Generation, error) {
	eb := backoff.NewExponentialBackOff()
	if r.initial > 0 {
		eb.InitialInterval = r.initial
	}
	if r.maxWait > 0 {
		eb.MaxInterval = r.maxWait
	}

	attempt := 0
	return backoff.Retry(ctx, func() (*Generation, error) {
		attempt++
		g, err := r.inner.Generate(ctx, prompt, opts)
		if err == nil {
			return g, nil
		}
		if !Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		r.logger.Debug("generation failed, retrying", "provider", r.inner.Name(), "attempt", attempt, "error", err)
		return nil, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(r.maxTries),
	)
}

// Retryable reports whether a generation error is worth retrying.
// Cancellation, deadlines, an open breaker, and client-side HTTP errors
// other than 408 and 429 are not.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrUnavailable):
		return false
	}

	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return retryableStatus(aerr.StatusCode)
	}
	var oerr *openai.Error
	if errors.As(err, &oerr) {
		return retryableStatus(oerr.StatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
