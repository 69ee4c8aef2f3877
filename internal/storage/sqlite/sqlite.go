// Package sqlite provides a durable session store backed by an embedded
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vivacli/viva/internal/interview"
)

const createTables = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	status     TEXT NOT NULL,
	owner      TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	payload    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	session_id   TEXT PRIMARY KEY,
	generated_at TEXT NOT NULL,
	payload      TEXT NOT NULL
);
`

// Store persists sessions and reports in a single SQLite file. Sessions are
// stored as JSON payloads with a few denormalized columns for listing;
// writes use optimistic versioning.
type Store struct {
	db *sql.DB
}

// New opens or creates the database at path and ensures the schema exists.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	if _, err := db.Exec(createTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetSession(ctx context.Context, id string) (*interview.Session, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM sessions WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", interview.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}

	var sess interview.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &sess, nil
}

// PutSession inserts a fresh session at version 1 or updates an existing one
// whose stored version is exactly one behind. Anything else is a conflict.
func (s *Store) PutSession(ctx context.Context, sess *interview.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.ID, err)
	}

	if sess.Version == 1 {
		result, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (id, version, status, owner, created_at, updated_at, payload)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			sess.ID, sess.Version, string(sess.Status), sess.Owner,
			sess.CreatedAt.UTC().Format(time.RFC3339Nano),
			sess.UpdatedAt.UTC().Format(time.RFC3339Nano),
			payload,
		)
		if err != nil {
			return fmt.Errorf("inserting session %s: %w", sess.ID, err)
		}
		return requireWrite(result, sess)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET version = ?, status = ?, updated_at = ?, payload = ?
		 WHERE id = ? AND version = ?`,
		sess.Version, string(sess.Status),
		sess.UpdatedAt.UTC().Format(time.RFC3339Nano),
		payload, sess.ID, sess.Version-1,
	)
	if err != nil {
		return fmt.Errorf("updating session %s: %w", sess.ID, err)
	}
	return requireWrite(result, sess)
}

func requireWrite(result sql.Result, sess *interview.Session) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking write of session %s: %w", sess.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s version conflict writing version %d", sess.ID, sess.Version)
	}
	return nil
}

// AppendReport writes the report once; repeated appends for the same session
// are no-ops, keeping reports immutable.
func (s *Store) AppendReport(ctx context.Context, report *interview.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding report for session %s: %w", report.SessionID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO reports (session_id, generated_at, payload) VALUES (?, ?, ?)`,
		report.SessionID, report.GeneratedAt.UTC().Format(time.RFC3339Nano), payload,
	)
	if err != nil {
		return fmt.Errorf("writing report for session %s: %w", report.SessionID, err)
	}
	return nil
}

func (s *Store) GetReport(ctx context.Context, sessionID string) (*interview.Report, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM reports WHERE session_id = ?`, sessionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: report for session %s", interview.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading report for session %s: %w", sessionID, err)
	}

	var report interview.Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("decoding report for session %s: %w", sessionID, err)
	}
	return &report, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]*interview.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*interview.Session
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		var sess interview.Session
		if err := json.Unmarshal(payload, &sess); err != nil {
			return nil, fmt.Errorf("decoding session row: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}
