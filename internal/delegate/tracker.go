// Package delegate tracks sub-agent tasks delegated from a parent task.
package delegate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/tandem/internal/policy"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// WorkflowExecutor runs a structured workflow on behalf of a sub-agent.
type WorkflowExecutor interface {
	Execute(ctx context.Context, workflowID string, params map[string]any) (any, error)
}

// WorkflowFunc adapts a function to WorkflowExecutor.
type WorkflowFunc func(ctx context.Context, workflowID string, params map[string]any) (any, error)

// Execute calls f.
func (f WorkflowFunc) Execute(ctx context.Context, workflowID string, params map[string]any) (any, error) {
	return f(ctx, workflowID, params)
}

// Placeholder is the result stored for a sub-agent that has no workflow to run.
type Placeholder struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Tracker holds sub-agent tasks and their lifecycle.
type Tracker struct {
	mu sync.RWMutex
	// order holds task IDs in creation order.
	order []string
	tasks map[string]*models.SubAgentTask

	maxTasks    int
	parallelism int
	workflows   WorkflowExecutor

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithWorkflows sets the collaborator used for tasks that reference a workflow.
func WithWorkflows(w WorkflowExecutor) Option {
	return func(t *Tracker) { t.workflows = w }
}

// WithLogger sets the tracker logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithIDFunc overrides sub-agent ID generation.
func WithIDFunc(fn func() string) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.newID = fn
		}
	}
}

// New creates an empty tracker.
func New(p policy.DelegationPolicy, opts ...Option) *Tracker {
	if p.MaxTasks < 1 {
		p.MaxTasks = policy.DefaultMaxSubAgents
	}
	if p.Parallelism < 1 {
		p.Parallelism = policy.DefaultParallelism
	}
	t := &Tracker{
		tasks:       make(map[string]*models.SubAgentTask),
		maxTasks:    p.MaxTasks,
		parallelism: p.Parallelism,
		now:         time.Now,
		newID:       uuid.NewString,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Create registers a pending sub-agent task. At the configured cap it fails
// with ErrCapacityExceeded and leaves the tracker unchanged.
func (t *Tracker) Create(name, description, workflowID string, params map[string]any) (models.SubAgentTask, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.tasks) >= t.maxTasks {
		return models.SubAgentTask{}, fmt.Errorf("create sub-agent %q: %w (max %d)", name, models.ErrCapacityExceeded, t.maxTasks)
	}

	task := &models.SubAgentTask{
		ID:          t.newID(),
		Name:        name,
		Description: description,
		WorkflowID:  workflowID,
		Params:      maps.Clone(params),
		Status:      models.SubAgentStatusPending,
		CreatedAt:   t.now(),
	}
	t.tasks[task.ID] = task
	t.order = append(t.order, task.ID)

	t.logger.Debug("sub-agent created", "subagent_id", task.ID, "name", name, "workflow", workflowID)
	return task.Clone(), nil
}

// Execute runs a sub-agent task. A task with a workflow reference is handed
// to the workflow collaborator when one is configured; otherwise it completes
// with a Placeholder result. Collaborator errors mark the task failed and are
// not returned. Execute returns ErrNotFound for an unknown id and ErrTaskBusy
// when the task is already running.
func (t *Tracker) Execute(ctx context.Context, id string) (models.SubAgentTask, error) {
	t.mu.Lock()
	task, ok := t.tasks[id]
	if !ok {
		t.mu.Unlock()
		return models.SubAgentTask{}, fmt.Errorf("execute sub-agent %s: %w", id, models.ErrNotFound)
	}
	if task.Status == models.SubAgentStatusRunning {
		t.mu.Unlock()
		return models.SubAgentTask{}, fmt.Errorf("execute sub-agent %s: %w", id, models.ErrTaskBusy)
	}
	started := t.now()
	task.Status = models.SubAgentStatusRunning
	task.StartedAt = &started
	task.EndedAt = nil
	task.Result = nil
	task.Error = ""
	name, description, workflowID := task.Name, task.Description, task.WorkflowID
	params := maps.Clone(task.Params)
	workflows := t.workflows
	t.mu.Unlock()

	var (
		result any
		err    error
	)
	if workflowID != "" && workflows != nil {
		result, err = runWorkflow(ctx, workflows, workflowID, params)
	} else {
		result = Placeholder{Name: name, Message: fmt.Sprintf("sub-agent %q handled: %s", name, description)}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ended := t.now()
	task.EndedAt = &ended
	if err != nil {
		task.Status = models.SubAgentStatusFailed
		task.Error = err.Error()
		t.logger.Warn("sub-agent failed", "subagent_id", id, "workflow", workflowID, "error", err)
	} else {
		task.Status = models.SubAgentStatusCompleted
		task.Result = result
		t.logger.Debug("sub-agent completed", "subagent_id", id, "duration", ended.Sub(started))
	}
	return task.Clone(), nil
}

// runWorkflow converts a collaborator panic into an error so a misbehaving
// workflow is recorded as a failed sub-agent.
func runWorkflow(ctx context.Context, w WorkflowExecutor, workflowID string, params map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow %s panicked: %v", workflowID, r)
		}
	}()
	return w.Execute(ctx, workflowID, params)
}

// ExecuteAll runs every pending sub-agent with bounded parallelism and
// returns the tasks in creation order once all have finished. Individual
// failures are recorded on the tasks; only context cancellation is returned.
func (t *Tracker) ExecuteAll(ctx context.Context) ([]models.SubAgentTask, error) {
	pending := t.Pending()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.parallelism)

	results := make([]models.SubAgentTask, len(pending))
	for i, task := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			done, err := t.Execute(gctx, task.ID)
			if err != nil {
				return err
			}
			results[i] = done
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Get returns the sub-agent task for an ID.
func (t *Tracker) Get(id string) (models.SubAgentTask, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[id]
	if !ok {
		return models.SubAgentTask{}, false
	}
	return task.Clone(), true
}

// All returns every task in creation order.
func (t *Tracker) All() []models.SubAgentTask {
	return t.filter(func(*models.SubAgentTask) bool { return true })
}

// Pending returns tasks not yet executed.
func (t *Tracker) Pending() []models.SubAgentTask { return t.withStatus(models.SubAgentStatusPending) }

// Running returns tasks currently executing.
func (t *Tracker) Running() []models.SubAgentTask { return t.withStatus(models.SubAgentStatusRunning) }

// Completed returns tasks that finished successfully.
func (t *Tracker) Completed() []models.SubAgentTask {
	return t.withStatus(models.SubAgentStatusCompleted)
}

// Failed returns tasks whose execution failed.
func (t *Tracker) Failed() []models.SubAgentTask { return t.withStatus(models.SubAgentStatusFailed) }

// Progress returns task counts per status.
func (t *Tracker) Progress() models.SubAgentProgress {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var p models.SubAgentProgress
	for _, id := range t.order {
		p.Add(t.tasks[id].Status)
	}
	return p
}

// Len returns the number of tracked tasks.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tasks)
}

// ClearCompleted removes completed tasks and returns how many were removed.
func (t *Tracker) ClearCompleted() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.order[:0]
	removed := 0
	for _, id := range t.order {
		if t.tasks[id].Status == models.SubAgentStatusCompleted {
			delete(t.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
	return removed
}

// Reset removes every task.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = nil
	t.tasks = make(map[string]*models.SubAgentTask)
}

func (t *Tracker) withStatus(s models.SubAgentStatus) []models.SubAgentTask {
	return t.filter(func(task *models.SubAgentTask) bool { return task.Status == s })
}

func (t *Tracker) filter(keep func(*models.SubAgentTask) bool) []models.SubAgentTask {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []models.SubAgentTask
	for _, id := range t.order {
		if task := t.tasks[id]; keep(task) {
			out = append(out, task.Clone())
		}
	}
	return out
}
