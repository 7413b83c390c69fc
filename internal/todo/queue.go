// Package todo provides the dependency-aware task queue.
//
// Tasks are kept in insertion order. Next returns the first pending task whose
// dependencies have all completed; a pending task with unmet dependencies is
// never returned. At most one task is "current" at a time.
package todo

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/tandem/internal/policy"
	"github.com/ShayCichocki/tandem/pkg/models"
)

// Queue is an ordered collection of tasks with dependency edges.
type Queue struct {
	mu sync.RWMutex
	// items holds tasks in insertion order.
	items []*models.TaskItem
	// index maps task ID to its entry in items.
	index map[string]*models.TaskItem
	// retired holds IDs of completed tasks removed by ClearCompleted.
	// They still satisfy dependencies.
	retired map[string]struct{}
	// currentID is the task most recently started and not yet finished.
	currentID string

	maxItems  int
	exclusive bool

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger used for transition debug output.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithIDFunc overrides task ID generation.
func WithIDFunc(fn func() string) Option {
	return func(q *Queue) {
		if fn != nil {
			q.newID = fn
		}
	}
}

// New creates an empty queue governed by the given policy.
func New(p policy.QueuePolicy, opts ...Option) *Queue {
	if p.MaxItems < 1 {
		p.MaxItems = policy.DefaultMaxQueueItems
	}
	q := &Queue{
		index:     make(map[string]*models.TaskItem),
		retired:   make(map[string]struct{}),
		maxItems:  p.MaxItems,
		exclusive: p.ExclusiveStart,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add appends a pending task. It fails with ErrCapacityExceeded when the
// queue already holds its maximum number of items.
// An invalid priority is stored as medium.
func (q *Queue) Add(description string, priority models.Priority, deps ...string) (models.TaskItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxItems {
		return models.TaskItem{}, fmt.Errorf("add task: %w (max %d items)", models.ErrCapacityExceeded, q.maxItems)
	}
	if !priority.Valid() {
		priority = models.PriorityMedium
	}

	item := &models.TaskItem{
		ID:          q.newID(),
		Description: description,
		Status:      models.TaskStatusPending,
		Priority:    priority,
		DependsOn:   dedupe(deps),
		CreatedAt:   q.now(),
	}
	q.items = append(q.items, item)
	q.index[item.ID] = item

	q.logger.Debug("task added", "task_id", item.ID, "priority", item.Priority, "depends_on", item.DependsOn)
	return item.Clone(), nil
}

// Next returns the first pending task, in insertion order, whose dependencies
// have all completed. It returns false when no task is eligible, even if
// pending tasks remain; that is a blocked state, not an error.
func (q *Queue) Next() (models.TaskItem, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, item := range q.items {
		if item.Status != models.TaskStatusPending {
			continue
		}
		if len(q.unmetLocked(item)) == 0 {
			return item.Clone(), true
		}
	}
	return models.TaskItem{}, false
}

// Start moves a pending task to in_progress and makes it the current task.
// Errors: ErrNotFound for an unknown id, ErrInvalidTransition when the task
// is not pending, ErrUnmetDependency when a dependency has not completed, and
// ErrTaskBusy when exclusive start is enabled and another task is current.
func (q *Queue) Start(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.index[id]
	if !ok {
		return fmt.Errorf("start task %s: %w", id, models.ErrNotFound)
	}
	if item.Status != models.TaskStatusPending {
		return fmt.Errorf("start task %s: %w: status is %s", id, models.ErrInvalidTransition, item.Status)
	}
	if unmet := q.unmetLocked(item); len(unmet) > 0 {
		return fmt.Errorf("start task %s: %w: %v", id, models.ErrUnmetDependency, unmet)
	}
	if q.exclusive && q.currentID != "" && q.currentID != id {
		return fmt.Errorf("start task %s: %w: current is %s", id, models.ErrTaskBusy, q.currentID)
	}

	item.Status = models.TaskStatusInProgress
	q.currentID = id
	q.logger.Debug("task started", "task_id", id)
	return nil
}

// Complete marks an in-progress task completed and clears it as current if
// it was. Any other status is ErrInvalidTransition.
func (q *Queue) Complete(id string) error {
	return q.finish(id, models.TaskStatusCompleted, "")
}

// Fail marks a pending or in-progress task failed with the given reason and
// clears it as current if it was. A finished task is ErrInvalidTransition.
func (q *Queue) Fail(id, reason string) error {
	return q.finish(id, models.TaskStatusFailed, reason)
}

func (q *Queue) finish(id string, status models.TaskStatus, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.index[id]
	if !ok {
		return fmt.Errorf("%s task %s: %w", verb(status), id, models.ErrNotFound)
	}
	switch {
	case item.Status == models.TaskStatusInProgress:
	case item.Status == models.TaskStatusPending && status == models.TaskStatusFailed:
	default:
		return fmt.Errorf("%s task %s: %w: status is %s", verb(status), id, models.ErrInvalidTransition, item.Status)
	}

	now := q.now()
	item.Status = status
	item.CompletedAt = &now
	item.Error = reason
	if q.currentID == id {
		q.currentID = ""
	}

	q.logger.Debug("task finished", "task_id", id, "status", status, "error", reason)
	return nil
}

func verb(s models.TaskStatus) string {
	if s == models.TaskStatusFailed {
		return "fail"
	}
	return "complete"
}

// unmetLocked returns dependency IDs of item that are not completed.
// Unknown IDs count as unmet unless they were retired by ClearCompleted.
func (q *Queue) unmetLocked(item *models.TaskItem) []string {
	var unmet []string
	for _, depID := range item.DependsOn {
		if _, ok := q.retired[depID]; ok {
			continue
		}
		dep, ok := q.index[depID]
		if !ok || dep.Status != models.TaskStatusCompleted {
			unmet = append(unmet, depID)
		}
	}
	return unmet
}

// Get returns the task for a given ID.
func (q *Queue) Get(id string) (models.TaskItem, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	item, ok := q.index[id]
	if !ok {
		return models.TaskItem{}, false
	}
	return item.Clone(), true
}

// Current returns the current task, if any.
func (q *Queue) Current() (models.TaskItem, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.currentID == "" {
		return models.TaskItem{}, false
	}
	return q.index[q.currentID].Clone(), true
}

// All returns copies of every task in insertion order.
func (q *Queue) All() []models.TaskItem {
	return q.filter(func(*models.TaskItem) bool { return true })
}

// Pending returns pending tasks in insertion order.
func (q *Queue) Pending() []models.TaskItem {
	return q.withStatus(models.TaskStatusPending)
}

// InProgress returns in-progress tasks in insertion order.
func (q *Queue) InProgress() []models.TaskItem {
	return q.withStatus(models.TaskStatusInProgress)
}

// Completed returns completed tasks in insertion order.
func (q *Queue) Completed() []models.TaskItem {
	return q.withStatus(models.TaskStatusCompleted)
}

// Failed returns failed tasks in insertion order.
func (q *Queue) Failed() []models.TaskItem {
	return q.withStatus(models.TaskStatusFailed)
}

// Blocked returns pending tasks that can never become eligible because a
// dependency failed or does not exist.
func (q *Queue) Blocked() []models.TaskItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []models.TaskItem
	for _, item := range q.items {
		if item.Status != models.TaskStatusPending {
			continue
		}
		if q.deadLocked(item, map[string]bool{}) {
			out = append(out, item.Clone())
		}
	}
	return out
}

// deadLocked reports whether item transitively depends on a failed or unknown task.
func (q *Queue) deadLocked(item *models.TaskItem, seen map[string]bool) bool {
	if seen[item.ID] {
		return false
	}
	seen[item.ID] = true
	for _, depID := range item.DependsOn {
		if _, ok := q.retired[depID]; ok {
			continue
		}
		dep, ok := q.index[depID]
		if !ok || dep.Status == models.TaskStatusFailed {
			return true
		}
		if dep.Status == models.TaskStatusPending && q.deadLocked(dep, seen) {
			return true
		}
	}
	return false
}

// Dependents returns the IDs of tasks that directly depend on the given task.
func (q *Queue) Dependents(id string) []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var dependents []string
	for _, item := range q.items {
		if slices.Contains(item.DependsOn, id) {
			dependents = append(dependents, item.ID)
		}
	}
	return dependents
}

// Progress returns task counts per status.
func (q *Queue) Progress() models.TaskProgress {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var p models.TaskProgress
	for _, item := range q.items {
		p.Add(item.Status)
	}
	return p
}

// Len returns the number of tasks in the queue.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Cap returns the maximum number of items.
func (q *Queue) Cap() int {
	return q.maxItems
}

// ClearCompleted removes completed tasks and returns how many were removed.
// Removed IDs keep satisfying the dependencies of remaining tasks.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if item.Status == models.TaskStatusCompleted {
			delete(q.index, item.ID)
			q.retired[item.ID] = struct{}{}
			removed++
			continue
		}
		kept = append(kept, item)
	}
	clear(q.items[len(kept):])
	q.items = kept
	return removed
}

// Reset empties the queue and clears the current task.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = nil
	q.index = make(map[string]*models.TaskItem)
	q.retired = make(map[string]struct{})
	q.currentID = ""
}

// Snapshot returns copies of every task for persistence.
func (q *Queue) Snapshot() []models.TaskItem {
	return q.All()
}

// Retired returns, sorted, the IDs removed by ClearCompleted that remaining
// tasks still depend on. Persist them with the snapshot.
func (q *Queue) Retired() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []string
	for _, item := range q.items {
		for _, dep := range item.DependsOn {
			if _, ok := q.retired[dep]; ok && !slices.Contains(out, dep) {
				out = append(out, dep)
			}
		}
	}
	slices.Sort(out)
	return out
}

// Restore replaces the queue contents with previously persisted tasks and
// the retired IDs that still satisfy their dependencies.
// The first in-progress task becomes current.
func (q *Queue) Restore(items []models.TaskItem, retired ...string) error {
	if len(items) > q.maxItems {
		return fmt.Errorf("restore queue: %w (%d items, max %d)", models.ErrCapacityExceeded, len(items), q.maxItems)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = make([]*models.TaskItem, 0, len(items))
	q.index = make(map[string]*models.TaskItem, len(items))
	q.retired = make(map[string]struct{})
	q.currentID = ""
	for _, it := range items {
		if !it.Status.Valid() {
			return fmt.Errorf("restore task %s: unknown status %q", it.ID, it.Status)
		}
		c := it.Clone()
		q.items = append(q.items, &c)
		q.index[c.ID] = &c
		if c.Status == models.TaskStatusInProgress && q.currentID == "" {
			q.currentID = c.ID
		}
	}
	for _, id := range retired {
		if _, ok := q.index[id]; !ok && id != "" {
			q.retired[id] = struct{}{}
		}
	}
	return nil
}

func (q *Queue) withStatus(s models.TaskStatus) []models.TaskItem {
	return q.filter(func(item *models.TaskItem) bool { return item.Status == s })
}

func (q *Queue) filter(keep func(*models.TaskItem) bool) []models.TaskItem {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []models.TaskItem
	for _, item := range q.items {
		if keep(item) {
			out = append(out, item.Clone())
		}
	}
	return out
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
