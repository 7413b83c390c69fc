package state

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// SaveMetrics stores the metrics snapshot, replacing the previous one.
func (db *DB) SaveMetrics(m models.MetricsSnapshot) error {
	_, err := db.Exec(`
		INSERT INTO metrics (id, total_executions, local_successes, local_failures, escalations,
			escalation_rate, avg_local_latency_ms, avg_escalation_latency_ms,
			local_samples, escalation_samples, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_executions = excluded.total_executions,
			local_successes = excluded.local_successes,
			local_failures = excluded.local_failures,
			escalations = excluded.escalations,
			escalation_rate = excluded.escalation_rate,
			avg_local_latency_ms = excluded.avg_local_latency_ms,
			avg_escalation_latency_ms = excluded.avg_escalation_latency_ms,
			local_samples = excluded.local_samples,
			escalation_samples = excluded.escalation_samples,
			updated_at = excluded.updated_at
	`, m.TotalExecutions, m.LocalSuccesses, m.LocalFailures, m.Escalations,
		m.EscalationRate, m.AvgLocalLatencyMs, m.AvgEscalationLatencyMs,
		m.LocalSamples, m.EscalationSamples, nullableTime(&m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save metrics: %w", err)
	}
	return nil
}

// LoadMetrics returns the stored snapshot. The bool is false when none has been saved.
func (db *DB) LoadMetrics() (models.MetricsSnapshot, bool, error) {
	var (
		m         models.MetricsSnapshot
		updatedAt sql.NullString
	)
	err := db.QueryRow(`
		SELECT total_executions, local_successes, local_failures, escalations,
			escalation_rate, avg_local_latency_ms, avg_escalation_latency_ms,
			local_samples, escalation_samples, updated_at
		FROM metrics WHERE id = 1
	`).Scan(&m.TotalExecutions, &m.LocalSuccesses, &m.LocalFailures, &m.Escalations,
		&m.EscalationRate, &m.AvgLocalLatencyMs, &m.AvgEscalationLatencyMs,
		&m.LocalSamples, &m.EscalationSamples, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MetricsSnapshot{}, false, nil
	}
	if err != nil {
		return models.MetricsSnapshot{}, false, fmt.Errorf("load metrics: %w", err)
	}
	if t := parseNullableTime(updatedAt); t != nil {
		m.UpdatedAt = *t
	}
	return m, true, nil
}

// ResetMetrics deletes the stored snapshot. Attempt history is kept.
func (db *DB) ResetMetrics() error {
	if _, err := db.Exec(`DELETE FROM metrics`); err != nil {
		return fmt.Errorf("reset metrics: %w", err)
	}
	return nil
}

// AppendAttempt records an attempt and, when keep > 0, prunes the task's
// history to its newest keep entries.
func (db *DB) AppendAttempt(taskID string, a models.Attempt, keep int) error {
	return db.Transaction(func(tx *sql.Tx) error {
		var score sql.NullFloat64
		if a.QualityScore != nil {
			score = sql.NullFloat64{Float64: *a.QualityScore, Valid: true}
		}
		_, err := tx.Exec(`
			INSERT INTO attempts (task_id, tier, started_at, ended_at, success, error, quality_score)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, taskID, string(a.Tier), formatTime(a.StartedAt), formatTime(a.EndedAt), a.Success, a.Error, score)
		if err != nil {
			return fmt.Errorf("append attempt: %w", err)
		}

		if keep <= 0 {
			return nil
		}
		_, err = tx.Exec(`
			DELETE FROM attempts
			WHERE task_id = ? AND id NOT IN (
				SELECT id FROM attempts WHERE task_id = ? ORDER BY id DESC LIMIT ?
			)
		`, taskID, taskID, keep)
		if err != nil {
			return fmt.Errorf("prune attempts: %w", err)
		}
		return nil
	})
}

// RecentAttempts returns up to limit of the task's newest attempts, oldest first.
func (db *DB) RecentAttempts(taskID string, limit int) ([]models.Attempt, error) {
	rows, err := db.Query(`
		SELECT task_id, tier, started_at, ended_at, success, error, quality_score FROM (
			SELECT * FROM attempts WHERE task_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	byTask, err := scanAttempts(rows)
	if err != nil {
		return nil, err
	}
	return byTask[taskID], nil
}

// RecentAttemptsByTask returns up to limit newest attempts per task, oldest first.
func (db *DB) RecentAttemptsByTask(limit int) (map[string][]models.Attempt, error) {
	rows, err := db.Query(`
		SELECT task_id, tier, started_at, ended_at, success, error, quality_score FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY task_id ORDER BY id DESC) AS rn
			FROM attempts
		) WHERE rn <= ? ORDER BY task_id, id ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func scanAttempts(rows *sql.Rows) (map[string][]models.Attempt, error) {
	out := make(map[string][]models.Attempt)
	for rows.Next() {
		var (
			taskID, tier, started, ended string
			success                      bool
			errText                      sql.NullString
			score                        sql.NullFloat64
		)
		if err := rows.Scan(&taskID, &tier, &started, &ended, &success, &errText, &score); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}

		a := models.Attempt{
			Tier:    models.Tier(tier),
			Success: success,
			Error:   errText.String,
		}
		var err error
		if a.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if a.EndedAt, err = parseTime(ended); err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		if score.Valid {
			v := score.Float64
			a.QualityScore = &v
		}
		out[taskID] = append(out[taskID], a)
	}
	return out, rows.Err()
}
