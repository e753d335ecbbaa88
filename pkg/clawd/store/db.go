// Package store provides the central SQLite database for ClawD. A single
// clawd.db file holds scheduler jobs; subagent run snapshots stay in their
// own JSON file because they need atomic whole-state replacement.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- Scheduler jobs
CREATE TABLE IF NOT EXISTS jobs (
    id              TEXT PRIMARY KEY,
    schedule        TEXT NOT NULL,
    command         TEXT NOT NULL,
    session         TEXT DEFAULT '',
    enabled         INTEGER DEFAULT 1,
    timeout_seconds INTEGER DEFAULT 0,
    created_at      TEXT NOT NULL,
    last_run_at     TEXT,
    last_error      TEXT DEFAULT '',
    run_count       INTEGER DEFAULT 0
);
`

// Open opens (or creates) the central clawd.db at the given path. It enables
// WAL mode for concurrent read performance and creates all tables.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		path = "./data/clawd.db"
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}
