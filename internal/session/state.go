// Package session implements the recorder's lifecycle state machine:
// activity tracking, inactivity and visibility timers, and session
// termination with its end-of-life flush.
package session

import "time"

// State is the lifecycle phase of one session instance.
type State int

const (
	Uninitialized State = iota
	Initializing
	Active
	Ended
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Session termination reasons.
const (
	ReasonInactivityTimeout = "inactivity_timeout"
	ReasonTabHiddenTimeout  = "tab_hidden_timeout"
	ReasonPageUnload        = "page_unload"
	ReasonProjectChanged    = "project_changed"
	ReasonShutdown          = "shutdown"
)

// maxPlausibleDuration caps session duration; anything beyond it (or
// negative) is treated as clock corruption and falls back to a duration
// derived from process start.
const maxPlausibleDuration = 24 * time.Hour

// Session is the per-session context transmitted with every batch. Created
// once at activation, mutated only by Identify (UserID) and navigation
// tracking (PageURL).
type Session struct {
	SessionID       string            `json:"sessionId"`
	VisitorID       string            `json:"visitorId"`
	GlobalVisitorID string            `json:"globalVisitorId"`
	ProjectID       string            `json:"projectId"`
	UserID          string            `json:"userId,omitempty"`
	PageURL         string            `json:"pageUrl"`
	StartTime       time.Time         `json:"startTime"`
	DeviceInfo      map[string]string `json:"deviceInfo,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}
