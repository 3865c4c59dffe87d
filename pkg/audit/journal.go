// Package audit keeps a journal of lock sessions and failed unlock attempts in SQLite.
//
// Entries never contain typed input.
package audit

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Kind is the type of journal entry.
type Kind string

const (
	KindLocked   Kind = "locked"
	KindUnlocked Kind = "unlocked"
	KindFailed   Kind = "failed"
)

// Entry is a single journal row.
type Entry struct {
	ID     int64
	Time   time.Time
	Kind   Kind
	Detail string
}

// Journal handles SQLite operations for the attempt journal.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultPath returns $XDG_STATE_HOME/trlock/journal.db, falling back to ~/.local/state.
func DefaultPath() (string, error) {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to find state directory: %w", err)
		}
		dir = filepath.Join(home, ".local", "state")
	}

	return filepath.Join(dir, "trlock", "journal.db"), nil
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	j := &Journal{
		db:  db,
		now: time.Now,
	}

	if err := j.initSchema(); err != nil {
		return nil, errors.Join(fmt.Errorf("init schema: %w", err), db.Close())
	}

	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    at TEXT NOT NULL,
    kind TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_at ON events(at DESC);
`
	_, err := j.db.Exec(schema)
	return err
}

// Record appends an entry stamped with the current time.
func (j *Journal) Record(kind Kind, detail string) error {
	_, err := j.db.Exec(
		`INSERT INTO events (at, kind, detail) VALUES (?, ?, ?)`,
		j.now().UTC().Format(time.RFC3339Nano), string(kind), detail,
	)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", kind, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := j.db.Query(
		`SELECT id, at, kind, detail FROM events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at, kind string
		if err := rows.Scan(&e.ID, &at, &kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Time, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse time of event %d: %w", e.ID, err)
		}
		e.Kind = Kind(kind)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}
