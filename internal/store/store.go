// Package store persists execution history and task memory in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"pcagent/internal/logging"
)

// Store is the SQLite-backed history and memory store. A single
// connection with WAL journaling keeps concurrent readers cheap while
// serializing writes.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	path         string
	historyLimit int
}

// New opens (or creates) the database at path. historyLimit caps how
// many executions RecentExecutions may return; <= 0 means 1000.
func New(path string, historyLimit int) (*Store, error) {
	logging.Store("opening history store at %s", path)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("could not set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("could not set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("could not enable foreign_keys: %v", err)
	}

	if historyLimit <= 0 {
		historyLimit = 1000
	}
	s := &Store{db: db, path: path, historyLimit: historyLimit}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			task_id       TEXT PRIMARY KEY,
			instruction   TEXT NOT NULL,
			success       INTEGER NOT NULL,
			total_cost    REAL NOT NULL,
			total_time_ms INTEGER NOT NULL,
			models_used   TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			started_at    TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subtask_results (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id     TEXT NOT NULL REFERENCES executions(task_id) ON DELETE CASCADE,
			position    INTEGER NOT NULL,
			subtask     TEXT NOT NULL,
			success     INTEGER NOT NULL,
			model_used  TEXT NOT NULL,
			tier        TEXT NOT NULL,
			cost        REAL NOT NULL,
			duration_ms INTEGER NOT NULL,
			attempts    INTEGER NOT NULL,
			output      TEXT NOT NULL DEFAULT '',
			evaluation  TEXT,
			reflection  TEXT,
			actions     TEXT,
			error       TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subtask_results_task
			ON subtask_results(task_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_started
			ON executions(started_at DESC)`,
		`CREATE TABLE IF NOT EXISTS task_memory (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			instruction TEXT NOT NULL UNIQUE,
			subtasks    TEXT NOT NULL,
			created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema initialization failed: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
