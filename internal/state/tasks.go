package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// TaskPlan is the work a queued task runs.
type TaskPlan struct {
	Complexity models.Complexity
	Steps      []models.PlanStep
}

// QueueState is the persisted todo queue.
type QueueState struct {
	// Items are in insertion order.
	Items []models.TaskItem
	// Retired are cleared task IDs that items still depend on.
	Retired []string
	// Plans holds the work of each item by ID.
	Plans map[string]TaskPlan
}

// SaveQueue replaces the stored queue with s. Plans for IDs not in
// s.Items are dropped.
func (db *DB) SaveQueue(s QueueState) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM tasks`); err != nil {
			return fmt.Errorf("clear tasks: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM retired_tasks`); err != nil {
			return fmt.Errorf("clear retired tasks: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO tasks (seq, id, description, status, priority, depends_on, created_at, completed_at, error, complexity, steps)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, item := range s.Items {
			deps, err := json.Marshal(item.DependsOn)
			if err != nil {
				return fmt.Errorf("encode dependencies of %s: %w", item.ID, err)
			}
			var complexity, steps sql.NullString
			if p, ok := s.Plans[item.ID]; ok {
				complexity = sql.NullString{String: string(p.Complexity), Valid: p.Complexity != ""}
				if len(p.Steps) > 0 {
					data, err := json.Marshal(p.Steps)
					if err != nil {
						return fmt.Errorf("encode steps of %s: %w", item.ID, err)
					}
					steps = sql.NullString{String: string(data), Valid: true}
				}
			}
			_, err = stmt.Exec(i, item.ID, item.Description, string(item.Status), string(item.Priority),
				string(deps), formatTime(item.CreatedAt), nullableTime(item.CompletedAt), item.Error,
				complexity, steps)
			if err != nil {
				return fmt.Errorf("insert task %s: %w", item.ID, err)
			}
		}

		for _, id := range s.Retired {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO retired_tasks (id) VALUES (?)`, id); err != nil {
				return fmt.Errorf("insert retired task %s: %w", id, err)
			}
		}
		return nil
	})
}

// LoadQueue returns the stored queue.
func (db *DB) LoadQueue() (QueueState, error) {
	s := QueueState{Plans: make(map[string]TaskPlan)}

	rows, err := db.Query(`
		SELECT id, description, status, priority, depends_on, created_at, completed_at, error, complexity, steps
		FROM tasks ORDER BY seq
	`)
	if err != nil {
		return s, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item                      models.TaskItem
			status, priority, created string
			deps, completed, errText  sql.NullString
			complexity, steps         sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.Description, &status, &priority, &deps, &created, &completed, &errText, &complexity, &steps); err != nil {
			return s, fmt.Errorf("scan task: %w", err)
		}
		item.Status = models.TaskStatus(status)
		item.Priority = models.Priority(priority)
		item.Error = errText.String
		item.CompletedAt = parseNullableTime(completed)
		if item.CreatedAt, err = parseTime(created); err != nil {
			return s, fmt.Errorf("parse created_at of %s: %w", item.ID, err)
		}
		if deps.Valid && deps.String != "" && deps.String != "null" {
			if err := json.Unmarshal([]byte(deps.String), &item.DependsOn); err != nil {
				return s, fmt.Errorf("decode dependencies of %s: %w", item.ID, err)
			}
		}
		if complexity.Valid || steps.Valid {
			p := TaskPlan{Complexity: models.Complexity(complexity.String)}
			if steps.Valid && steps.String != "" {
				if err := json.Unmarshal([]byte(steps.String), &p.Steps); err != nil {
					return s, fmt.Errorf("decode steps of %s: %w", item.ID, err)
				}
			}
			s.Plans[item.ID] = p
		}
		s.Items = append(s.Items, item)
	}
	if err := rows.Err(); err != nil {
		return s, err
	}

	retired, err := db.Query(`SELECT id FROM retired_tasks ORDER BY id`)
	if err != nil {
		return s, fmt.Errorf("query retired tasks: %w", err)
	}
	defer retired.Close()
	for retired.Next() {
		var id string
		if err := retired.Scan(&id); err != nil {
			return s, fmt.Errorf("scan retired task: %w", err)
		}
		s.Retired = append(s.Retired, id)
	}
	return s, retired.Err()
}

// SaveTasks replaces the stored queue with items, keeping their order.
// Plans and retired IDs are cleared.
func (db *DB) SaveTasks(items []models.TaskItem) error {
	return db.SaveQueue(QueueState{Items: items})
}

// LoadTasks returns the stored queue items in insertion order.
func (db *DB) LoadTasks() ([]models.TaskItem, error) {
	s, err := db.LoadQueue()
	return s.Items, err
}
