// Package escalation decides when a task moves from the local tier to the
// escalation tier and accumulates execution metrics across tasks.
package escalation

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ShayCichocki/tandem/internal/policy"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// Decision confidences.
const (
	confidenceComplex    = 1.0
	confidenceTimeout    = 0.9
	confidenceValidation = 0.8
	confidenceRetries    = 0.9
	confidenceFailures   = 0.7
	confidenceNoEscalate = 0.8
)

// Signals are the observations fed into Decide.
type Signals struct {
	Complexity models.Complexity
	// Validation is the optional validation verdict for the local output.
	Validation *models.ValidationResult
	// ExecutionTime is how long the local attempt ran.
	ExecutionTime time.Duration
	// TimedOut is set when the local attempt hit its deadline.
	TimedOut   bool
	ErrorCount int
}

// Policy is the escalation rule chain plus the metrics accumulator.
// All methods are safe for concurrent use; each mutation is a single
// critical section and no lock is held across caller code.
type Policy struct {
	mu      sync.Mutex
	cfg     policy.EscalationPolicy
	history *History
	metrics metrics

	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithLogger sets the decision logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the time source used for metric timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

// New returns a policy with empty metrics. Out-of-range thresholds are reset to defaults.
func New(cfg policy.EscalationPolicy, opts ...Option) *Policy {
	cfg.Validate()
	p := &Policy{
		cfg:     cfg,
		history: NewHistory(cfg.HistorySize),
		now:     time.Now,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decide evaluates the rule chain for a task. The first matching rule wins:
// complexity, timeout, validation, error count, then consecutive failures.
func (p *Policy) Decide(taskID string, s Signals) models.EscalationDecision {
	p.mu.Lock()
	cfg := p.cfg
	failing := p.history.TrailingFailures(taskID, cfg.ConsecutiveFailures)
	p.mu.Unlock()

	d := decide(cfg, s, failing)
	p.logger.Debug("escalation decision",
		"task_id", taskID,
		"escalate", d.ShouldEscalate,
		"confidence", d.Confidence,
		"reason", d.Reason,
	)
	return d
}

func decide(cfg policy.EscalationPolicy, s Signals, failing bool) models.EscalationDecision {
	threshold := cfg.TimeoutThreshold.Milliseconds()

	switch {
	case s.Complexity == models.ComplexityComplex:
		return escalate("task complexity is complex", confidenceComplex)

	case s.TimedOut:
		return escalate(fmt.Sprintf("execution hit the timeout threshold of %dms", threshold), confidenceTimeout)

	case s.ExecutionTime > cfg.TimeoutThreshold:
		return escalate(fmt.Sprintf("execution took %dms, over the timeout threshold of %dms",
			s.ExecutionTime.Milliseconds(), threshold), confidenceTimeout)

	case s.Validation != nil && s.Validation.ShouldEscalate:
		return escalate(fmt.Sprintf("validation quality score %.2f is below threshold", s.Validation.QualityScore), confidenceValidation)

	case s.ErrorCount >= cfg.MaxRetries:
		return escalate(fmt.Sprintf("error count %d reached max retries %d", s.ErrorCount, cfg.MaxRetries), confidenceRetries)

	case failing:
		return escalate(fmt.Sprintf("last %d attempts failed", cfg.ConsecutiveFailures), confidenceFailures)
	}

	return models.EscalationDecision{
		ShouldEscalate: false,
		Reason:         "local tier result is acceptable",
		Confidence:     confidenceNoEscalate,
	}
}

func escalate(reason string, confidence float64) models.EscalationDecision {
	return models.EscalationDecision{ShouldEscalate: true, Reason: reason, Confidence: confidence}
}

// RecordAttempt appends the attempt to the task's history and updates metrics.
func (p *Policy) RecordAttempt(taskID string, a models.Attempt) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history.Append(taskID, a)
	p.metrics.observeAttempt(a, p.now())
}

// RecordEscalation counts an escalation. When it originates from a local
// attempt the local failure counter and local latency average are updated too.
func (p *Policy) RecordEscalation(taskID string, fromLocal bool, localElapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.observeEscalation(fromLocal, localElapsed, p.now())
	p.logger.Debug("escalation recorded", "task_id", taskID, "from_local", fromLocal)
}

// Metrics returns a snapshot of the accumulated metrics.
func (p *Policy) Metrics() models.MetricsSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics.s
}

// ResetMetrics zeroes all counters. Attempt history is kept.
func (p *Policy) ResetMetrics() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = metrics{}
	p.metrics.s.UpdatedAt = p.now()
}

// History returns the recorded attempts for a task, oldest first.
func (p *Policy) History(taskID string) []models.Attempt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.Attempts(taskID)
}

// Restore seeds metrics and history from persisted state.
// History slices are expected oldest first; only the newest entries that fit are kept.
func (p *Policy) Restore(snapshot models.MetricsSnapshot, history map[string][]models.Attempt) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics = metrics{s: snapshot}
	p.history = NewHistory(p.cfg.HistorySize)
	for id, attempts := range history {
		for _, a := range attempts {
			p.history.Append(id, a)
		}
	}
}

// Thresholds returns the active escalation thresholds.
func (p *Policy) Thresholds() policy.EscalationPolicy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// UpdateThresholds replaces the decision thresholds, e.g. after a config reload.
// Metrics are untouched.
func (p *Policy) UpdateThresholds(cfg policy.EscalationPolicy) {
	cfg.Validate()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.history.SetCapacity(cfg.HistorySize)
}
