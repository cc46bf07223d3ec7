package identity

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite
)

// SQLiteStore persists identity records in a local SQLite file so visitor
// identity and session continuation survive process restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the identity database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open identity store: %w", err)
	}
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS identity(
	  project_id        TEXT PRIMARY KEY,
	  visitor_id        TEXT NOT NULL,
	  global_visitor_id TEXT NOT NULL,
	  session_id        TEXT NOT NULL DEFAULT '',
	  last_activity_ms  INTEGER NOT NULL DEFAULT 0
	);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create identity table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(projectID string) (Record, bool, error) {
	var rec Record
	var lastMs int64
	err := s.db.QueryRow(
		`SELECT visitor_id, global_visitor_id, session_id, last_activity_ms FROM identity WHERE project_id = ?`,
		projectID,
	).Scan(&rec.VisitorID, &rec.GlobalVisitorID, &rec.SessionID, &lastMs)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to load identity record: %w", err)
	}
	if lastMs > 0 {
		rec.LastActivity = time.UnixMilli(lastMs)
	}
	return rec, true, nil
}

func (s *SQLiteStore) Save(projectID string, rec Record) error {
	var lastMs int64
	if !rec.LastActivity.IsZero() {
		lastMs = rec.LastActivity.UnixMilli()
	}
	_, err := s.db.Exec(`
	INSERT INTO identity(project_id, visitor_id, global_visitor_id, session_id, last_activity_ms)
	VALUES(?,?,?,?,?)
	ON CONFLICT(project_id) DO UPDATE SET
	  visitor_id = excluded.visitor_id,
	  global_visitor_id = excluded.global_visitor_id,
	  session_id = excluded.session_id,
	  last_activity_ms = excluded.last_activity_ms`,
		projectID, rec.VisitorID, rec.GlobalVisitorID, rec.SessionID, lastMs,
	)
	if err != nil {
		return fmt.Errorf("failed to save identity record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Touch(projectID string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE identity SET last_activity_ms = ? WHERE project_id = ?`,
		at.UnixMilli(), projectID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch identity record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearSession(projectID string) error {
	_, err := s.db.Exec(
		`UPDATE identity SET session_id = '', last_activity_ms = 0 WHERE project_id = ?`,
		projectID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear session record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
