package state

import (
	"io"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// MetricsStore persists the escalation metrics snapshot.
type MetricsStore interface {
	SaveMetrics(m models.MetricsSnapshot) error
	LoadMetrics() (models.MetricsSnapshot, bool, error)
	ResetMetrics() error
}

// AttemptStore persists per-task attempt history.
type AttemptStore interface {
	AppendAttempt(taskID string, a models.Attempt, keep int) error
	RecentAttempts(taskID string, limit int) ([]models.Attempt, error)
	RecentAttemptsByTask(limit int) (map[string][]models.Attempt, error)
}

// TaskStore persists the todo queue snapshot.
type TaskStore interface {
	SaveQueue(s QueueState) error
	LoadQueue() (QueueState, error)
	SaveTasks(items []models.TaskItem) error
	LoadTasks() ([]models.TaskItem, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore is everything the runtime persists.
type StateStore interface {
	io.Closer
	Migrator
	MetricsStore
	AttemptStore
	TaskStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore   = (*DB)(nil)
	_ Migrator     = (*DB)(nil)
	_ MetricsStore = (*DB)(nil)
	_ AttemptStore = (*DB)(nil)
	_ TaskStore    = (*DB)(nil)
)
