package recorder

import (
	"time"

	"github.com/tracewell/recorder/internal/session"
)

// QueuedEvent is the inspection view of a pending event.
type QueuedEvent struct {
	SessionID string
	Type      string
	Timestamp time.Time
	PageURL   string
	Data      map[string]any
}

// Status is an aggregate snapshot of the recorder's state. All fields are
// safe to read after the recorder is disabled.
type Status struct {
	State           string
	SessionID       string
	QueueLength     int
	Disabled        bool
	DisabledReason  string
	TotalErrors     int64
	NetworkErrors   int64
	StorageErrors   int64
	EventsProcessed int64
}

// SessionID returns the current session identifier, or "" when no session
// is active.
func (r *Recorder) SessionID() string {
	r.mu.Lock()
	m := r.machine
	r.mu.Unlock()
	if m == nil {
		return ""
	}
	return m.Session().SessionID
}

// Events returns a snapshot of the queued events. The queue itself is never
// exposed.
func (r *Recorder) Events() []QueuedEvent {
	r.mu.Lock()
	q := r.queue
	r.mu.Unlock()
	if q == nil {
		return nil
	}
	snap := q.Snapshot()
	out := make([]QueuedEvent, len(snap))
	for i, ev := range snap {
		out[i] = QueuedEvent{
			SessionID: ev.SessionID,
			Type:      ev.Type,
			Timestamp: ev.Timestamp,
			PageURL:   ev.PageURL,
			Data:      ev.Data,
		}
	}
	return out
}

// Status reports the lifecycle state, queue depth and error counters. Never
// errors, even when disabled.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	m := r.machine
	q := r.queue
	initializing := r.initializing
	r.mu.Unlock()

	st := Status{
		State:           session.Uninitialized.String(),
		Disabled:        r.breaker.Disabled(),
		DisabledReason:  r.breaker.Reason(),
		TotalErrors:     r.breaker.ErrorCount(),
		NetworkErrors:   r.healthm.NetworkErrors.Load(),
		StorageErrors:   r.healthm.StorageErrors.Load(),
		EventsProcessed: r.healthm.EventsProcessed.Load(),
	}
	switch {
	case initializing:
		st.State = session.Initializing.String()
	case m != nil:
		st.State = m.State().String()
		st.SessionID = m.Session().SessionID
	}
	if st.Disabled {
		st.State = "disabled"
	}
	if q != nil {
		st.QueueLength = q.Len()
	}
	return st
}
