package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ShayCichocki/tandem/internal/config"
)

// Stack holds the decorator settings shared by every configured provider.
type Stack struct {
	Cache   config.CacheConfig
	Retry   config.RetryConfig
	Breaker config.BreakerConfig
	Tracker *TokenTracker
	Logger  *slog.Logger
}

// New builds the backend described by cfg and wraps it, innermost first,
// with retries, a circuit breaker and the response cache. The returned
// close func releases the cache and is never nil.
func New(ctx context.Context, cfg config.ProviderConfig, s Stack) (Provider, func(), error) {
	noop := func() {}

	backend, err := newBackend(ctx, cfg, s.Tracker)
	if err != nil {
		return nil, noop, err
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var p Provider = backend
	if s.Retry.MaxTries > 1 {
		p = NewRetrying(p, s.Retry.MaxTries, s.Retry.InitialInterval, s.Retry.MaxInterval, logger)
	}
	if s.Breaker.MaxFailures > 0 {
		p = NewBreaker(p, s.Breaker.MaxFailures, s.Breaker.Cooldown)
	}
	if s.Cache.Enabled {
		cached, err := NewCached(p, s.Cache.MaxBytes, s.Cache.TTL)
		if err != nil {
			return nil, noop, err
		}
		return cached, cached.Close, nil
	}
	return p, noop, nil
}

func newBackend(ctx context.Context, cfg config.ProviderConfig, tracker *TokenTracker) (Provider, error) {
	switch strings.ToLower(cfg.Kind) {
	case config.KindAnthropic:
		return NewAnthropic(ctx, cfg, tracker)
	case config.KindOpenAI:
		return NewOpenAI(cfg, tracker)
	case config.KindGemini:
		return NewGemini(ctx, cfg, tracker)
	case config.KindEcho:
		return Echo(), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

// Echo returns an offline provider that restates the last line of each
// prompt. It backs dry runs.
func Echo() Func {
	return Text(func(prompt string) string {
		lines := strings.Split(strings.TrimSpace(prompt), "\n")
		return "echo: " + strings.TrimSpace(lines[len(lines)-1])
	})
}
