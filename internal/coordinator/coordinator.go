// Package coordinator runs each task on the local tier first and hands it
// to the escalation tier when the escalation policy says so.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ShayCichocki/tandem/internal/escalation"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// TierExecutor runs a plan on one tier.
type TierExecutor interface {
	ExecutePlan(ctx context.Context, steps []models.PlanStep) (*models.ExecutionOutcome, error)
}

// Validator scores successful local output.
type Validator interface {
	Validate(ctx context.Context, prompt, output string) (*models.ValidationResult, error)
}

// Observer is called with every result before Execute returns.
type Observer func(ctx context.Context, req Request, res *Result)

// Request describes one task execution.
type Request struct {
	TaskID      string
	Description string
	Steps       []models.PlanStep
	Complexity  models.Complexity
	// ErrorCount is the number of errors already seen for the task.
	ErrorCount int
}

// Result is the decision-annotated outcome of one task.
type Result struct {
	TaskID    string
	Success   bool
	Tier      models.Tier
	Escalated bool
	// Reason is the escalation decision reason.
	Reason            string
	Decision          models.EscalationDecision
	LocalElapsed      time.Duration
	EscalationElapsed time.Duration
	QualityScore      *float64
	Validation        *models.ValidationResult
	Output            string
	TokensUsed        int64
	// Err is the failure of the tier whose result was used, if any.
	Err error
}

// ErrorMessage returns the failure text, or "" on success.
func (r *Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Coordinator drives tasks through the two tiers.
type Coordinator struct {
	local      TierExecutor
	escalation TierExecutor
	policy     *escalation.Policy
	validator  Validator
	observers  []Observer
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithValidator scores local output before the escalation decision.
func WithValidator(v Validator) Option {
	return func(c *Coordinator) { c.validator = v }
}

// WithObserver registers a result hook.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source used for elapsed times.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a coordinator. Both tiers and the policy are required.
func New(local, esc TierExecutor, p *escalation.Policy, opts ...Option) (*Coordinator, error) {
	if local == nil || esc == nil {
		return nil, ErrMissingTier
	}
	if p == nil {
		return nil, errors.New("coordinator: missing escalation policy")
	}
	c := &Coordinator{
		local:      local,
		escalation: esc,
		policy:     p,
		now:        time.Now,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Policy returns the escalation policy the coordinator records into.
func (c *Coordinator) Policy() *escalation.Policy { return c.policy }

// Execute runs req on the local tier, asks the policy whether to escalate
// and, if so, reruns it on the escalation tier. Tier failures are reported
// in the result. The attempt and any escalation are recorded before it returns.
func (c *Coordinator) Execute(ctx context.Context, req Request) *Result {
	thresholds := c.policy.Thresholds()
	res := &Result{TaskID: req.TaskID, Tier: models.TierLocal}

	local := c.run(ctx, models.TierLocal, c.local, req, thresholds.TimeoutThreshold)
	res.LocalElapsed = local.elapsed

	errorCount := req.ErrorCount
	if !local.success() {
		errorCount++
	}

	var validation *models.ValidationResult
	if local.success() && c.validator != nil {
		v, err := validate(ctx, c.validator, prompt(req), local.outcome.Output)
		if err != nil {
			c.logger.Warn("validation failed", "task_id", req.TaskID, "error", err)
		} else {
			validation = v
		}
	}
	res.Validation = validation

	// A cancelled caller gets the local failure without an escalation.
	if ctx.Err() != nil {
		c.finish(ctx, req, res, local, c.attempt(models.TierLocal, local, validation))
		return res
	}

	decision := c.policy.Decide(req.TaskID, escalation.Signals{
		Complexity:    req.Complexity,
		Validation:    validation,
		ExecutionTime: local.elapsed,
		TimedOut:      local.timedOut,
		ErrorCount:    errorCount,
	})
	res.Decision = decision
	res.Reason = decision.Reason

	if !decision.ShouldEscalate {
		c.finish(ctx, req, res, local, c.attempt(models.TierLocal, local, validation))
		return res
	}

	c.policy.RecordEscalation(req.TaskID, true, local.elapsed)
	c.logger.Info("escalating task", "task_id", req.TaskID, "reason", decision.Reason)

	esc := c.run(ctx, models.TierEscalation, c.escalation, req, thresholds.EscalationTimeout)
	res.Tier = models.TierEscalation
	res.Escalated = true
	res.EscalationElapsed = esc.elapsed
	res.Validation = nil
	c.finish(ctx, req, res, esc, c.attempt(models.TierEscalation, esc, nil))
	return res
}

// tierRun is the outcome of one tier call.
type tierRun struct {
	tier     models.Tier
	outcome  *models.ExecutionOutcome
	err      error
	started  time.Time
	ended    time.Time
	elapsed  time.Duration
	timedOut bool
}

func (r tierRun) success() bool {
	return r.err == nil && r.outcome != nil && r.outcome.Success
}

func (c *Coordinator) run(ctx context.Context, tier models.Tier, exec TierExecutor, req Request, timeout time.Duration) tierRun {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r := tierRun{tier: tier, started: c.now()}
	r.outcome, r.err = executePlan(tctx, exec, req.Steps)
	r.ended = c.now()
	r.elapsed = r.ended.Sub(r.started)

	if r.err == nil && r.outcome == nil {
		r.err = errors.New("executor returned no outcome")
	}
	if r.err == nil && !r.outcome.Success {
		msg := r.outcome.Error
		if msg == "" {
			msg = "execution unsuccessful"
		}
		r.err = errors.New(msg)
	}
	if r.err != nil {
		// Only our own deadline counts as a timeout, not the caller's.
		r.timedOut = ctx.Err() == nil && (IsTimeout(r.err) || errors.Is(tctx.Err(), context.DeadlineExceeded))
		r.err = &ExecutionError{Tier: tier, TaskID: req.TaskID, Err: r.err}
	}
	return r
}

// executePlan turns an executor panic into an error so the task fails
// like any other tier failure.
func executePlan(ctx context.Context, exec TierExecutor, steps []models.PlanStep) (out *models.ExecutionOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return exec.ExecutePlan(ctx, steps)
}

func validate(ctx context.Context, v Validator, prompt, output string) (res *models.ValidationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("validator panicked: %v", r)
		}
	}()
	return v.Validate(ctx, prompt, output)
}

func (c *Coordinator) attempt(tier models.Tier, r tierRun, v *models.ValidationResult) models.Attempt {
	a := models.Attempt{
		Tier:      tier,
		StartedAt: r.started,
		EndedAt:   r.ended,
		Success:   r.success(),
	}
	if r.err != nil {
		a.Error = r.err.Error()
	}
	a.QualityScore = qualityScore(r, v)
	return a
}

func (c *Coordinator) finish(ctx context.Context, req Request, res *Result, r tierRun, a models.Attempt) {
	c.policy.RecordAttempt(req.TaskID, a)

	res.Success = r.success()
	res.Err = r.err
	res.QualityScore = a.QualityScore
	if r.outcome != nil {
		res.Output = r.outcome.Output
		res.TokensUsed = r.outcome.TokensUsed
	}

	c.logger.Info("task executed",
		"task_id", req.TaskID,
		"tier", res.Tier,
		"success", res.Success,
		"escalated", res.Escalated,
		"local_elapsed", res.LocalElapsed,
		"escalation_elapsed", res.EscalationElapsed,
	)
	for _, o := range c.observers {
		o(ctx, req, res)
	}
}

// qualityScore prefers the validator's score over the tier's own.
func qualityScore(r tierRun, v *models.ValidationResult) *float64 {
	if v != nil {
		s := v.QualityScore
		return &s
	}
	if r.outcome != nil && r.outcome.QualityScore != nil {
		s := *r.outcome.QualityScore
		return &s
	}
	return nil
}

func prompt(req Request) string {
	if len(req.Steps) == 0 {
		return req.Description
	}
	return req.Steps[len(req.Steps)-1].Text()
}
