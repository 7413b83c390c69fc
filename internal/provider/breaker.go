package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker is a circuit breaker around a provider. It opens after
// maxFailures consecutive transport failures and rejects calls with
// ErrUnavailable until the cooldown elapses, then lets one probe through.
type Breaker struct {
	inner Provider

	mu          sync.Mutex
	state       breakerState
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	// probing is set while the half-open probe is in flight.
	probing bool
	now         func() time.Time
}

// NewBreaker wraps inner with a circuit breaker.
func NewBreaker(inner Provider, maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		inner:       inner,
		maxFailures: max(maxFailures, 1),
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Name implements Provider.
func (b *Breaker) Name() string { return b.inner.Name() }

// Available reports false while the circuit is open.
func (b *Breaker) Available(ctx context.Context) bool {
	b.mu.Lock()
	open := b.state == breakerOpen && b.now().Sub(b.openedAt) < b.cooldown
	b.mu.Unlock()
	if open {
		return false
	}
	return b.inner.Available(ctx)
}

// Generate forwards to the wrapped provider if the circuit allows it.
// Context cancellation does not count as a provider failure.
func (b *Breaker) Generate(ctx context.Context, prompt string, opts Options) (*Generation, error) {
	ok, probe := b.allow()
	if !ok {
		return nil, fmt.Errorf("%s: %w: circuit open", b.inner.Name(), ErrUnavailable)
	}

	g, err := b.inner.Generate(ctx, prompt, opts)

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	switch {
	case err == nil:
		b.failures = 0
		b.state = breakerClosed
	case errors.Is(err, context.Canceled):
		if b.state == breakerHalfOpen {
			b.state = breakerOpen
		}
	default:
		b.failures++
		if b.state == breakerHalfOpen || b.failures >= b.maxFailures {
			b.state = breakerOpen
			b.openedAt = b.now()
		}
	}
	return g, err
}

// allow reports whether a call may proceed and whether it is the
// half-open probe. Only one probe is in flight at a time.
func (b *Breaker) allow() (ok, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, false
		}
		b.state = breakerHalfOpen
		fallthrough
	case breakerHalfOpen:
		if b.probing {
			return false, false
		}
		b.probing = true
		return true, true
	default:
		return true, false
	}
}
