package event

import (
	"encoding/json"
	"time"
)

// Event is a single captured interaction. It is immutable once queued:
// ownership moves from the capture site to the queue, then into a batch
// payload, and the event is discarded after transmission is attempted.
type Event struct {
	SessionID string
	Type      string
	Timestamp time.Time
	PageURL   string
	Data      map[string]any
}

// MarshalJSON flattens Data into the top-level object so the wire shape is
// {sessionId, eventType, timestamp, pageUrl, ...typeSpecificFields}. The
// reserved keys always win over colliding Data keys.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Data)+4)
	for k, v := range e.Data {
		m[k] = v
	}
	m["sessionId"] = e.SessionID
	m["eventType"] = e.Type
	m["timestamp"] = e.Timestamp.UnixMilli()
	m["pageUrl"] = e.PageURL
	return json.Marshal(m)
}
