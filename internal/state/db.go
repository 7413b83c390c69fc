// Package state provides SQLite-based persistence for tandem: escalation
// metrics, per-task attempt history and the todo queue snapshot.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// ErrLocked is returned by Open when another process holds the state lock.
var ErrLocked = errors.New("state database is locked by another tandem process")

// DB wraps an SQLite database connection with tandem-specific operations.
type DB struct {
	conn *sql.DB
	path string
	lock *flock.Flock
	mu   sync.RWMutex
}

// DefaultPath returns the project-local database path under root.
func DefaultPath(root string) string {
	return filepath.Join(root, ".tandem", "state.db")
}

// Open opens the database at path for writing. It creates parent
// directories, takes an exclusive lock on "<path>.lock" and enables WAL.
func Open(path string) (*DB, error) {
	return open(path, false)
}

// OpenShared opens the database for reading alongside other readers.
// It fails with ErrLocked while a writer holds the database.
func OpenShared(path string) (*DB, error) {
	return open(path, true)
}

func open(path string, shared bool) (*DB, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	var (
		ok  bool
		err error
	)
	if shared {
		ok, err = lock.TryRLock()
	} else {
		ok, err = lock.TryLock()
	}
	if err != nil {
		return nil, fmt.Errorf("lock database: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		lock.Unlock()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		lock.Unlock()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{
		conn: conn,
		path: path,
		lock: lock,
	}, nil
}

// Close closes the database connection and releases the lock.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	err := db.conn.Close()
	if uerr := db.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Metrics},
		{2, migrationV2Attempts},
		{3, migrationV3Tasks},
		{4, migrationV4TaskPlans},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Metrics = `
CREATE TABLE IF NOT EXISTS metrics (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	total_executions INTEGER NOT NULL DEFAULT 0,
	local_successes INTEGER NOT NULL DEFAULT 0,
	local_failures INTEGER NOT NULL DEFAULT 0,
	escalations INTEGER NOT NULL DEFAULT 0,
	escalation_rate REAL NOT NULL DEFAULT 0,
	avg_local_latency_ms REAL NOT NULL DEFAULT 0,
	avg_escalation_latency_ms REAL NOT NULL DEFAULT 0,
	local_samples INTEGER NOT NULL DEFAULT 0,
	escalation_samples INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT
);
`

const migrationV2Attempts = `
CREATE TABLE IF NOT EXISTS attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	tier TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT NOT NULL,
	success INTEGER NOT NULL,
	error TEXT,
	quality_score REAL
);

CREATE INDEX IF NOT EXISTS idx_attempts_task_id ON attempts(task_id, id);
`

const migrationV3Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	seq INTEGER PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	priority TEXT NOT NULL DEFAULT 'medium',
	depends_on TEXT,
	created_at TEXT NOT NULL,
	completed_at TEXT,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

const migrationV4TaskPlans = `
ALTER TABLE tasks ADD COLUMN complexity TEXT;
ALTER TABLE tasks ADD COLUMN steps TEXT;

CREATE TABLE IF NOT EXISTS retired_tasks (
	id TEXT PRIMARY KEY
);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
