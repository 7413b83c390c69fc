// Package tier runs task plans against a text generation provider. One
// Executor backs each execution tier.
package tier

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ShayCichocki/tandem/internal/provider"
	"github.com/ShayCichocki/tandem/internal/quality"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// ProgressUpdate reports a finished plan step.
type ProgressUpdate struct {
	Tier models.Tier
	// Step is 1-based.
	Step       int
	TotalSteps int
	TokensUsed int64
	Duration   time.Duration
}

// ProgressCallback is called after every step. It may be nil.
type ProgressCallback func(update ProgressUpdate)

// Executor runs plan steps in order against one provider.
type Executor struct {
	tier       models.Tier
	provider   provider.Provider
	loop       *quality.Loop
	opts       provider.Options
	onProgress ProgressCallback
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithQualityLoop refines the final output of every plan.
func WithQualityLoop(l *quality.Loop) Option {
	return func(e *Executor) { e.loop = l }
}

// WithGenerateOptions sets the options passed on every step call.
func WithGenerateOptions(o provider.Options) Option {
	return func(e *Executor) { e.opts = o }
}

// WithProgress registers a per-step callback.
func WithProgress(fn ProgressCallback) Option {
	return func(e *Executor) { e.onProgress = fn }
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an executor for tier backed by p.
func New(tier models.Tier, p provider.Provider, opts ...Option) *Executor {
	e := &Executor{
		tier:     tier,
		provider: p,
		now:      time.Now,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tier returns the tier this executor serves.
func (e *Executor) Tier() models.Tier { return e.tier }

// Provider returns the backing provider.
func (e *Executor) Provider() provider.Provider { return e.provider }

// ExecutePlan runs steps strictly in order. Each step prompt carries the
// outputs of earlier steps, and the last step's output is the plan output.
// Provider and quality loop errors are returned; an empty plan is an
// unsuccessful outcome.
func (e *Executor) ExecutePlan(ctx context.Context, steps []models.PlanStep) (*models.ExecutionOutcome, error) {
	start := e.now()
	outcome := &models.ExecutionOutcome{}

	if len(steps) == 0 {
		outcome.Error = "plan has no steps"
		return outcome, nil
	}

	var (
		outputs    []string
		lastPrompt string
	)
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lastPrompt = stepPrompt(step, outputs)
		g, err := e.provider.Generate(ctx, lastPrompt, e.opts)
		if err != nil {
			return nil, fmt.Errorf("%s tier step %d/%d: %w", e.tier, i+1, len(steps), err)
		}
		outputs = append(outputs, strings.TrimSpace(g.Text))
		outcome.TokensUsed += g.Usage.Total()

		e.logger.Debug("plan step done",
			"tier", e.tier,
			"step", i+1,
			"of", len(steps),
			"provider", e.provider.Name(),
			"cached", g.Cached,
			"latency", g.Latency,
		)
		if e.onProgress != nil {
			e.onProgress(ProgressUpdate{
				Tier:       e.tier,
				Step:       i + 1,
				TotalSteps: len(steps),
				TokensUsed: outcome.TokensUsed,
				Duration:   e.now().Sub(start),
			})
		}
	}

	output := outputs[len(outputs)-1]
	if e.loop != nil {
		res, err := e.loop.Improve(ctx, lastPrompt, output, strings.Join(outputs[:len(outputs)-1], "\n\n"))
		if err != nil {
			return nil, fmt.Errorf("%s tier quality loop: %w", e.tier, err)
		}
		output = res.FinalResponse
		score := res.QualityScore
		outcome.QualityScore = &score
	}

	outcome.Success = true
	outcome.Output = output
	outcome.Elapsed = e.now().Sub(start)
	return outcome, nil
}

func stepPrompt(step models.PlanStep, previous []string) string {
	if len(previous) == 0 {
		return step.Text()
	}
	var b strings.Builder
	b.WriteString("Outputs of the previous steps:\n\n")
	for i, out := range previous {
		fmt.Fprintf(&b, "--- step %d ---\n%s\n\n", i+1, out)
	}
	b.WriteString("Current step:\n")
	b.WriteString(step.Text())
	return b.String()
}
