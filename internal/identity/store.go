package identity

import (
	"sync"
	"time"
)

// Record is the persistent identity state for one project. It survives
// process restarts; the session portion is cleared whenever a session ends.
type Record struct {
	VisitorID       string
	GlobalVisitorID string
	SessionID       string
	LastActivity    time.Time
}

// Store is durable key-value storage for identity records, keyed by project
// identifier. Implementations need not be safe against concurrent writers
// in other processes; same-key races between processes are an accepted
// limitation.
type Store interface {
	// Load returns the record for projectID. ok is false when none exists.
	Load(projectID string) (rec Record, ok bool, err error)
	// Save writes the full record for projectID.
	Save(projectID string, rec Record) error
	// Touch updates only the last-activity timestamp.
	Touch(projectID string, at time.Time) error
	// ClearSession removes the session token and activity timestamp while
	// keeping the visitor identifiers.
	ClearSession(projectID string) error
	Close() error
}

// MemStore is an in-memory Store for tests and for embedders that opt out
// of persistence.
type MemStore struct {
	mu   sync.Mutex
	recs map[string]Record
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{recs: make(map[string]Record)}
}

func (s *MemStore) Load(projectID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[projectID]
	return rec, ok, nil
}

func (s *MemStore) Save(projectID string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[projectID] = rec
	return nil
}

func (s *MemStore) Touch(projectID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[projectID]; ok {
		rec.LastActivity = at
		s.recs[projectID] = rec
	}
	return nil
}

func (s *MemStore) ClearSession(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.recs[projectID]; ok {
		rec.SessionID = ""
		rec.LastActivity = time.Time{}
		s.recs[projectID] = rec
	}
	return nil
}

func (s *MemStore) Close() error { return nil }
