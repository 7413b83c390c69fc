package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// InterruptedRun describes queue tasks left in progress by a process that
// stopped before finishing them.
type InterruptedRun struct {
	TaskIDs []string
	// LastActivity is the newest attempt time among those tasks, if any.
	LastActivity time.Time
}

// RecoveryManager handles detection and recovery of interrupted runs.
type RecoveryManager struct {
	db *DB
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db}
}

// CheckForInterrupted reports in-progress tasks in the stored queue.
// The caller holds the write lock, so no other process can be running them.
// Returns nil if there are none.
func (rm *RecoveryManager) CheckForInterrupted() (*InterruptedRun, error) {
	rows, err := rm.db.Query(`
		SELECT t.id, MAX(a.ended_at)
		FROM tasks t LEFT JOIN attempts a ON a.task_id = t.id
		WHERE t.status = ?
		GROUP BY t.id
		ORDER BY t.seq
	`, string(models.TaskStatusInProgress))
	if err != nil {
		return nil, fmt.Errorf("query interrupted tasks: %w", err)
	}
	defer rows.Close()

	run := &InterruptedRun{}
	for rows.Next() {
		var (
			id   string
			last sql.NullString
		)
		if err := rows.Scan(&id, &last); err != nil {
			return nil, fmt.Errorf("scan interrupted task: %w", err)
		}
		run.TaskIDs = append(run.TaskIDs, id)
		if t := parseNullableTime(last); t != nil && t.After(run.LastActivity) {
			run.LastActivity = *t
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(run.TaskIDs) == 0 {
		return nil, nil
	}
	return run, nil
}

// Resume puts interrupted tasks back to pending so they run again.
// It returns how many were reset.
func (rm *RecoveryManager) Resume() (int64, error) {
	res, err := rm.db.Exec(`UPDATE tasks SET status = ? WHERE status = ?`,
		string(models.TaskStatusPending), string(models.TaskStatusInProgress))
	if err != nil {
		return 0, fmt.Errorf("resume interrupted tasks: %w", err)
	}
	return res.RowsAffected()
}

// Clean marks interrupted tasks failed so their dependents are reported blocked.
func (rm *RecoveryManager) Clean() (int64, error) {
	res, err := rm.db.Exec(`UPDATE tasks SET status = ?, error = ?, completed_at = ? WHERE status = ?`,
		string(models.TaskStatusFailed), "interrupted", formatTime(time.Now()), string(models.TaskStatusInProgress))
	if err != nil {
		return 0, fmt.Errorf("clean interrupted tasks: %w", err)
	}
	return res.RowsAffected()
}
