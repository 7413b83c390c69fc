package models

import (
	"maps"
	"time"
)

// SubAgentStatus represents the current state of a delegated sub-task.
type SubAgentStatus string

const (
	// SubAgentStatusPending indicates the sub-task has not started.
	SubAgentStatusPending SubAgentStatus = "pending"
	// SubAgentStatusRunning indicates the sub-task is executing.
	SubAgentStatusRunning SubAgentStatus = "running"
	// SubAgentStatusCompleted indicates the sub-task finished.
	SubAgentStatusCompleted SubAgentStatus = "completed"
	// SubAgentStatusFailed indicates the sub-task failed.
	SubAgentStatusFailed SubAgentStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s SubAgentStatus) Valid() bool {
	switch s {
	case SubAgentStatusPending, SubAgentStatusRunning, SubAgentStatusCompleted, SubAgentStatusFailed:
		return true
	default:
		return false
	}
}

// SubAgentTask is a unit of delegated work tracked by the delegation tracker.
type SubAgentTask struct {
	// ID is the unique identifier for this sub-task.
	ID string `json:"id"`
	// Name is a short label for the sub-task.
	Name string `json:"name"`
	// Description explains what the sub-agent should do.
	Description string `json:"description"`
	// WorkflowID references a structured workflow to run, if any.
	WorkflowID string `json:"workflow_id,omitempty"`
	// Params are passed to the workflow executor.
	Params map[string]any `json:"params,omitempty"`
	// Status is the current state of the sub-task.
	Status SubAgentStatus `json:"status"`
	// Result holds the workflow output once completed.
	Result any `json:"result,omitempty"`
	// Error contains the failure message if the sub-task failed.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the sub-task was delegated.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when execution began.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// EndedAt is when execution reached a terminal status.
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// Clone returns a copy of the sub-task with its own params map.
// Result is copied by reference.
func (s SubAgentTask) Clone() SubAgentTask {
	c := s
	c.Params = maps.Clone(s.Params)
	if s.StartedAt != nil {
		ts := *s.StartedAt
		c.StartedAt = &ts
	}
	if s.EndedAt != nil {
		ts := *s.EndedAt
		c.EndedAt = &ts
	}
	return c
}

// SubAgentProgress holds aggregate counts per sub-task status.
type SubAgentProgress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Add counts one sub-task with the given status.
func (p *SubAgentProgress) Add(s SubAgentStatus) {
	p.Total++
	switch s {
	case SubAgentStatusPending:
		p.Pending++
	case SubAgentStatusRunning:
		p.Running++
	case SubAgentStatusCompleted:
		p.Completed++
	case SubAgentStatusFailed:
		p.Failed++
	}
}
