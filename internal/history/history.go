// Package history provides a SQLite-backed log of answered questions.
// Every terminal outcome the gateway observes — completed, failed or
// timed out — is appended so past questions survive response-record
// expiry on the bus.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Entry is a single answered (or failed) question.
type Entry struct {
	// ID is the correlation id the request carried through the pipeline.
	ID string
	// Question is the raw user question.
	Question string
	// Answer is the generated answer; empty for failed or timed-out requests.
	Answer string
	// Status is the terminal outcome: completed, failed or timeout.
	Status string
	// Elapsed is the pipeline processing time in seconds.
	Elapsed float64
	// CreatedAt is when the entry was persisted.
	CreatedAt time.Time
}

// Store is a question log backed by a local SQLite database.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the question log database.
// It resolves to ~/.devhelper/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("history: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".devhelper")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("history: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS questions (
    rowid        INTEGER PRIMARY KEY AUTOINCREMENT,
    id           TEXT    NOT NULL,
    question     TEXT    NOT NULL,
    answer       TEXT    NOT NULL,
    status       TEXT    NOT NULL,
    elapsed      REAL    NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_questions_created
    ON questions (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Append persists one terminal outcome. It satisfies the gateway's
// Recorder interface.
func (s *Store) Append(ctx context.Context, id, question, answer, status string, elapsed float64) error {
	const q = `INSERT INTO questions (id, question, answer, status, elapsed, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, id, question, answer, status, elapsed, time.Now().Unix()); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n entries, newest first. If fewer than
// n entries exist, all are returned.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	const q = `
SELECT id, question, answer, status, elapsed, created_at
FROM   questions
ORDER  BY created_at DESC, rowid DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &e.Question, &e.Answer, &e.Status, &e.Elapsed, &ts); err != nil {
			return nil, fmt.Errorf("history: recent scan: %w", err)
		}
		e.CreatedAt = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent rows: %w", err)
	}
	return entries, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("history: close: %w", err)
	}
	return nil
}
