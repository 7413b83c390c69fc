// Package quality implements the critique, refine and verify loop that
// improves a single generated response.
package quality

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ShayCichocki/tandem/internal/policy"
	"github.com/ShayCichocki/tandem/internal/provider"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// Critic scores a response. Loop implements it; validation uses it.
type Critic interface {
	Critique(ctx context.Context, prompt, response, extra string) (models.Critique, error)
}

// Result is the outcome of one Improve call.
type Result struct {
	// FinalResponse is the last accepted response.
	FinalResponse string
	// Iterations is the number of critique rounds performed.
	Iterations int
	// QualityScore is the score of the most recent critique.
	QualityScore float64
	Critiques    []models.Critique
	// Improvements holds the summary of every adopted refinement.
	Improvements []string
	// Verifications holds every verdict, adopted or not.
	Verifications []models.Verification
	// Success is true when a critique reached the threshold.
	Success bool
}

// Loop runs critique, refine and verify rounds against one provider.
type Loop struct {
	provider provider.Provider
	opts     provider.Options
	logger   *slog.Logger

	mu  sync.RWMutex
	cfg policy.QualityPolicy
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Loop) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithGenerateOptions sets the options passed on every provider call.
func WithGenerateOptions(o provider.Options) Option {
	return func(q *Loop) { q.opts = o }
}

// New creates a loop. Out-of-range policy values fall back to defaults.
func New(p provider.Provider, cfg policy.QualityPolicy, opts ...Option) *Loop {
	cfg.Validate()
	q := &Loop{
		provider: p,
		cfg:      cfg,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Policy returns the current loop settings.
func (q *Loop) Policy() policy.QualityPolicy {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.cfg
}

// SetPolicy replaces the loop settings. Calls already in flight keep the old ones.
func (q *Loop) SetPolicy(cfg policy.QualityPolicy) {
	cfg.Validate()
	q.mu.Lock()
	q.cfg = cfg
	q.mu.Unlock()
}

// Improve iteratively critiques and refines initial. Malformed provider
// output falls back to defaults; only provider errors are returned.
func (q *Loop) Improve(ctx context.Context, prompt, initial, extra string) (*Result, error) {
	cfg := q.Policy()
	result := &Result{FinalResponse: initial}

	if !cfg.Enabled {
		result.QualityScore = 1.0
		result.Success = true
		return result, nil
	}

	current := initial
	for result.Iterations < cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Iterations++
		iter := result.Iterations

		critique, err := q.critique(ctx, cfg, prompt, current, extra)
		if err != nil {
			return nil, fmt.Errorf("critique (iteration %d): %w", iter, err)
		}
		result.Critiques = append(result.Critiques, critique)
		result.QualityScore = critique.QualityScore
		q.logger.Debug("critique", "iteration", iter, "score", critique.QualityScore, "issues", len(critique.Issues))

		if critique.QualityScore >= cfg.Threshold {
			result.Success = true
			break
		}

		text, err := q.generate(ctx, cfg, refinePrompt(prompt, current, extra, critique))
		if err != nil {
			return nil, fmt.Errorf("refine (iteration %d): %w", iter, err)
		}
		refined := ParseRefinement(text, critique)

		if cfg.Verify {
			text, err := q.generate(ctx, cfg, verifyPrompt(prompt, current, refined.Response, critique))
			if err != nil {
				return nil, fmt.Errorf("verify (iteration %d): %w", iter, err)
			}
			v := ParseVerification(text)
			result.Verifications = append(result.Verifications, v.Verification)
			if !v.Improved {
				q.logger.Debug("refinement rejected", "iteration", iter, "recommendation", v.Recommendation)
				break
			}
		}

		current = refined.Response
		result.Improvements = append(result.Improvements, refined.Summary)
	}

	result.FinalResponse = current
	return result, nil
}

// Critique scores response with one provider call, ignoring whether the loop is enabled.
func (q *Loop) Critique(ctx context.Context, prompt, response, extra string) (models.Critique, error) {
	return q.critique(ctx, q.Policy(), prompt, response, extra)
}

func (q *Loop) critique(ctx context.Context, cfg policy.QualityPolicy, prompt, response, extra string) (models.Critique, error) {
	text, err := q.generate(ctx, cfg, critiquePrompt(prompt, response, extra))
	if err != nil {
		return models.Critique{}, err
	}
	return ParseCritique(text).Critique, nil
}

func (q *Loop) generate(ctx context.Context, cfg policy.QualityPolicy, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	defer cancel()

	g, err := q.provider.Generate(callCtx, prompt, q.opts)
	if err != nil {
		return "", err
	}
	return g.Text, nil
}
