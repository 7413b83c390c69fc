// Package provider implements text generation backends used by both
// execution tiers and by the quality loop.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when a provider refuses calls, e.g. while its
// circuit breaker is open.
var ErrUnavailable = errors.New("provider unavailable")

// Options tune a single generation call. Zero values use the provider defaults.
type Options struct {
	System      string
	MaxTokens   int
	Temperature *float64
}

// Float returns a pointer to v, for Options.Temperature.
func Float(v float64) *float64 { return &v }

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Generation is the result of a generation call.
type Generation struct {
	Text    string        `json:"text"`
	Usage   Usage         `json:"usage"`
	Latency time.Duration `json:"latency"`
	Model   string        `json:"model"`
	// Cached is set when the result was served from the response cache.
	Cached bool `json:"-"`
}

// Provider generates text from a prompt.
type Provider interface {
	// Name identifies the backend and model, e.g. "anthropic/claude-sonnet-4-5".
	Name() string
	Generate(ctx context.Context, prompt string, opts Options) (*Generation, error)
	// Available reports whether calls are currently expected to succeed.
	Available(ctx context.Context) bool
}

// Func adapts a function to Provider. It is always available.
type Func func(ctx context.Context, prompt string, opts Options) (*Generation, error)

// Name implements Provider.
func (f Func) Name() string { return "func" }

// Generate calls f.
func (f Func) Generate(ctx context.Context, prompt string, opts Options) (*Generation, error) {
	return f(ctx, prompt, opts)
}

// Available implements Provider.
func (f Func) Available(context.Context) bool { return true }

// Text returns a provider that answers every prompt with the output of fn.
// It is used for offline runs and dry runs.
func Text(fn func(prompt string) string) Func {
	return func(ctx context.Context, prompt string, _ Options) (*Generation, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := fn(prompt)
		return &Generation{
			Text:  out,
			Model: "static",
			Usage: Usage{
				InputTokens:  int64(ApproxTokens(prompt)),
				OutputTokens: int64(ApproxTokens(out)),
			},
		}, nil
	}
}
