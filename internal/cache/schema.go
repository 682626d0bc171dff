package cache

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the version of the metadata database layout.
const SchemaVersion = "1"

const createIndexStateTable = `
CREATE TABLE IF NOT EXISTS index_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

const createBranchesTable = `
CREATE TABLE IF NOT EXISTS branches (
	name             TEXT PRIMARY KEY,
	last_commit      TEXT NOT NULL DEFAULT '',
	first_indexed_at TEXT NOT NULL,
	last_indexed_at  TEXT NOT NULL,
	file_count       INTEGER NOT NULL DEFAULT 0
)`

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	operation_id     TEXT NOT NULL,
	branch           TEXT NOT NULL,
	mode             TEXT NOT NULL,
	strategy         TEXT NOT NULL,
	trigger_reasons  TEXT NOT NULL DEFAULT '[]',
	confidence       REAL NOT NULL DEFAULT 0,
	files_processed  INTEGER NOT NULL DEFAULT 0,
	chunks_embedded  INTEGER NOT NULL DEFAULT 0,
	chunks_reused    INTEGER NOT NULL DEFAULT 0,
	files_hidden     INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	error            TEXT NOT NULL DEFAULT '',
	started_at       TEXT NOT NULL,
	finished_at      TEXT NOT NULL,
	duration_seconds REAL NOT NULL DEFAULT 0
)`

const createRunsStartedIndex = `CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`

// createSchema creates all tables in one transaction and stamps the schema
// version.
func createSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback() // Safe to call even after commit

	statements := []struct {
		name string
		ddl  string
	}{
		{"index_state", createIndexStateTable},
		{"branches", createBranchesTable},
		{"runs", createRunsTable},
		{"idx_runs_started_at", createRunsStartedIndex},
	}
	for _, s := range statements {
		if _, err := tx.Exec(s.ddl); err != nil {
			return fmt.Errorf("failed to create %s: %w", s.name, err)
		}
	}

	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO index_state (key, value, updated_at) VALUES (?, ?, datetime('now'))`,
		KeySchemaVersion, SchemaVersion,
	); err != nil {
		return fmt.Errorf("failed to bootstrap index_state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema transaction: %w", err)
	}
	return nil
}
