package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

// Well-known index_state keys.
const (
	KeySchemaVersion     = "schema_version"
	KeyLastSuccessfulRun = "last_successful_run"
	KeyActiveCollection  = "active_collection"
	KeyEmbeddingModel    = "embedding_model"
	KeyEmbeddingDims     = "embedding_dimensions"
	KeyDocumentCount     = "document_count"
)

// RunStatus is the outcome of an indexing run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// BranchRecord tracks a branch that has been indexed at least once.
type BranchRecord struct {
	Name           string
	LastCommit     string
	FirstIndexedAt time.Time
	LastIndexedAt  time.Time
	FileCount      int
}

// RunRecord is the audit entry for one indexing run.
type RunRecord struct {
	ID             int64
	OperationID    string
	Branch         string
	Mode           string
	Strategy       string
	TriggerReasons []string
	Confidence     float64
	FilesProcessed int
	ChunksEmbedded int
	ChunksReused   int
	FilesHidden    int
	Status         RunStatus
	Error          string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Duration is the wall time of the run.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// MetadataStore persists per-codebase indexing state in SQLite.
type MetadataStore struct {
	db *sql.DB
}

// OpenMetadataStore opens (creating if needed) the database at path.
// ":memory:" opens a private in-memory database.
func OpenMetadataStore(path string) (*MetadataStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create metadata directory: %w", err)
		}
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &MetadataStore{db: db}, nil
}

func (s *MetadataStore) Close() error {
	return s.db.Close()
}

// State returns the value stored under key, or "" when absent.
func (s *MetadataStore) State(key string) (string, error) {
	var value string
	err := sq.Select("value").
		From("index_state").
		Where(sq.Eq{"key": key}).
		RunWith(s.db).
		QueryRow().
		Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores value under key.
func (s *MetadataStore) SetState(key, value string) error {
	_, err := sq.Insert("index_state").
		Columns("key", "value", "updated_at").
		Values(key, value, formatTime(time.Now())).
		Options("OR REPLACE").
		RunWith(s.db).
		Exec()
	if err != nil {
		return fmt.Errorf("failed to write state %s: %w", key, err)
	}
	return nil
}

// LastSuccessfulRun returns when indexing last completed, and false if it
// never has.
func (s *MetadataStore) LastSuccessfulRun() (time.Time, bool, error) {
	raw, err := s.State(KeyLastSuccessfulRun)
	if err != nil || raw == "" {
		return time.Time{}, false, err
	}
	t, err := parseTime(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt %s value %q: %w", KeyLastSuccessfulRun, raw, err)
	}
	return t, true, nil
}

// MarkSuccessfulRun records t as the last successful run.
func (s *MetadataStore) MarkSuccessfulRun(t time.Time) error {
	return s.SetState(KeyLastSuccessfulRun, formatTime(t))
}

// ActiveCollection returns the collection searches should read, or
// fallback when none has been recorded.
func (s *MetadataStore) ActiveCollection(fallback string) (string, error) {
	v, err := s.State(KeyActiveCollection)
	if err != nil {
		return "", err
	}
	if v == "" {
		return fallback, nil
	}
	return v, nil
}

// SetActiveCollection switches the collection searches read.
func (s *MetadataStore) SetActiveCollection(name string) error {
	return s.SetState(KeyActiveCollection, name)
}

// UpsertBranch records that branch was indexed at commit.
func (s *MetadataStore) UpsertBranch(name, commit string, fileCount int, at time.Time) error {
	ts := formatTime(at)
	_, err := sq.Insert("branches").
		Columns("name", "last_commit", "first_indexed_at", "last_indexed_at", "file_count").
		Values(name, commit, ts, ts, fileCount).
		Suffix("ON CONFLICT(name) DO UPDATE SET last_commit = excluded.last_commit, last_indexed_at = excluded.last_indexed_at, file_count = excluded.file_count").
		RunWith(s.db).
		Exec()
	if err != nil {
		return fmt.Errorf("failed to record branch %s: %w", name, err)
	}
	return nil
}

// Branch returns the record for name, or nil if it was never indexed.
func (s *MetadataStore) Branch(name string) (*BranchRecord, error) {
	rows, err := s.branches(sq.Eq{"name": name})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// KnownBranches returns every indexed branch, ordered by name.
func (s *MetadataStore) KnownBranches() ([]BranchRecord, error) {
	return s.branches(nil)
}

// ForgetBranch removes a branch from the registry.
func (s *MetadataStore) ForgetBranch(name string) error {
	_, err := sq.Delete("branches").
		Where(sq.Eq{"name": name}).
		RunWith(s.db).
		Exec()
	if err != nil {
		return fmt.Errorf("failed to forget branch %s: %w", name, err)
	}
	return nil
}

func (s *MetadataStore) branches(where sq.Sqlizer) ([]BranchRecord, error) {
	q := sq.Select("name", "last_commit", "first_indexed_at", "last_indexed_at", "file_count").
		From("branches").
		OrderBy("name")
	if where != nil {
		q = q.Where(where)
	}
	rows, err := q.RunWith(s.db).Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	defer rows.Close()

	var out []BranchRecord
	for rows.Next() {
		var b BranchRecord
		var first, last string
		if err := rows.Scan(&b.Name, &b.LastCommit, &first, &last, &b.FileCount); err != nil {
			return nil, fmt.Errorf("failed to scan branch: %w", err)
		}
		b.FirstIndexedAt, _ = parseTime(first)
		b.LastIndexedAt, _ = parseTime(last)
		out = append(out, b)
	}
	return out, rows.Err()
}

// RecordRun appends a run to the history and returns its id.
func (s *MetadataStore) RecordRun(r RunRecord) (int64, error) {
	reasons, err := json.Marshal(nonNil(r.TriggerReasons))
	if err != nil {
		return 0, fmt.Errorf("failed to encode trigger reasons: %w", err)
	}
	res, err := sq.Insert("runs").
		Columns(
			"operation_id", "branch", "mode", "strategy", "trigger_reasons", "confidence",
			"files_processed", "chunks_embedded", "chunks_reused", "files_hidden",
			"status", "error", "started_at", "finished_at", "duration_seconds",
		).
		Values(
			r.OperationID, r.Branch, r.Mode, r.Strategy, string(reasons), r.Confidence,
			r.FilesProcessed, r.ChunksEmbedded, r.ChunksReused, r.FilesHidden,
			string(r.Status), r.Error, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Duration().Seconds(),
		).
		RunWith(s.db).
		Exec()
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	return res.LastInsertId()
}

// RecentRuns returns up to limit runs, newest first.
func (s *MetadataStore) RecentRuns(limit int) ([]RunRecord, error) {
	return s.runs(nil, uint64(max(limit, 1)))
}

// LastFullRun returns the newest completed run whose mode is not
// incremental, or nil.
func (s *MetadataStore) LastFullRun() (*RunRecord, error) {
	runs, err := s.runs(sq.And{
		sq.Eq{"status": string(RunCompleted)},
		sq.NotEq{"mode": "incremental"},
	}, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

func (s *MetadataStore) runs(where sq.Sqlizer, limit uint64) ([]RunRecord, error) {
	q := sq.Select(
		"id", "operation_id", "branch", "mode", "strategy", "trigger_reasons", "confidence",
		"files_processed", "chunks_embedded", "chunks_reused", "files_hidden",
		"status", "error", "started_at", "finished_at",
	).
		From("runs").
		OrderBy("started_at DESC", "id DESC").
		Limit(limit)
	if where != nil {
		q = q.Where(where)
	}
	rows, err := q.RunWith(s.db).Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var reasons, status, started, finished string
		if err := rows.Scan(
			&r.ID, &r.OperationID, &r.Branch, &r.Mode, &r.Strategy, &reasons, &r.Confidence,
			&r.FilesProcessed, &r.ChunksEmbedded, &r.ChunksReused, &r.FilesHidden,
			&status, &r.Error, &started, &finished,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(reasons), &r.TriggerReasons); err != nil {
			return nil, fmt.Errorf("corrupt trigger reasons for run %d: %w", r.ID, err)
		}
		r.Status = RunStatus(status)
		r.StartedAt, _ = parseTime(started)
		r.FinishedAt, _ = parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
