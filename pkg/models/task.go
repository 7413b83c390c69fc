package models

import (
	"slices"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates the task is being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for completed and failed.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Priority is the relative importance of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// TaskItem is a unit of work held by the todo queue.
type TaskItem struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" yaml:"id"`
	// Description is what the task should accomplish.
	Description string `json:"description" yaml:"description"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status" yaml:"status"`
	// Priority is the relative importance of the task.
	Priority Priority `json:"priority" yaml:"priority"`
	// DependsOn lists task IDs that must complete before this task may start.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// CreatedAt is when the task was added.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	// CompletedAt is when the task reached a terminal status, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	// Error contains the failure reason if the task failed.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Clone returns a deep copy of the task item.
func (t TaskItem) Clone() TaskItem {
	c := t
	c.DependsOn = slices.Clone(t.DependsOn)
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}

// TaskProgress holds aggregate counts per task status.
type TaskProgress struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Add counts one task with the given status.
func (p *TaskProgress) Add(s TaskStatus) {
	p.Total++
	switch s {
	case TaskStatusPending:
		p.Pending++
	case TaskStatusInProgress:
		p.InProgress++
	case TaskStatusCompleted:
		p.Completed++
	case TaskStatusFailed:
		p.Failed++
	}
}

// Percent returns the share of terminal tasks in [0, 100].
func (p TaskProgress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed+p.Failed) / float64(p.Total) * 100
}
