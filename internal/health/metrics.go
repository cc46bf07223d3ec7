// Package health tracks the recorder's internal counters and periodically
// reports them to a metrics sink, independent of the main event stream.
package health

import (
	"sync/atomic"
	"time"
)

// Metrics holds monotonic counters, incremented across the recorder and
// read by the Reporter. Counters never reset within a process lifetime.
type Metrics struct {
	TotalErrors     atomic.Int64
	NetworkErrors   atomic.Int64
	StorageErrors   atomic.Int64
	EventsProcessed atomic.Int64

	StartTime    time.Time
	lastReportMs atomic.Int64
}

// NewMetrics creates counters anchored at the process start instant.
func NewMetrics(start time.Time) *Metrics {
	return &Metrics{StartTime: start}
}

// Snapshot is a point-in-time copy of the counters in wire form.
type Snapshot struct {
	TotalErrors     int64 `json:"totalErrors"`
	NetworkErrors   int64 `json:"networkErrors"`
	StorageErrors   int64 `json:"storageErrors"`
	EventsProcessed int64 `json:"eventsProcessed"`
	UptimeMs        int64 `json:"uptimeMs"`
	LastReportMs    int64 `json:"lastReportMs,omitempty"`
}

// Snapshot captures the counters as of now.
func (m *Metrics) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		TotalErrors:     m.TotalErrors.Load(),
		NetworkErrors:   m.NetworkErrors.Load(),
		StorageErrors:   m.StorageErrors.Load(),
		EventsProcessed: m.EventsProcessed.Load(),
		UptimeMs:        now.Sub(m.StartTime).Milliseconds(),
		LastReportMs:    m.lastReportMs.Load(),
	}
}

// MarkReported records that a report was emitted at now.
func (m *Metrics) MarkReported(now time.Time) {
	m.lastReportMs.Store(now.UnixMilli())
}
