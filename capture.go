package recorder

import (
	"context"

	"github.com/tracewell/recorder/internal/event"
	"github.com/tracewell/recorder/internal/guard"
	"github.com/tracewell/recorder/internal/identity"
	"github.com/tracewell/recorder/internal/metrics"
	"github.com/tracewell/recorder/internal/session"
	"github.com/tracewell/recorder/internal/transport"
)

// qualifyingActivity are the event types that count as user activity and
// reset the inactivity window.
var qualifyingActivity = map[string]bool{
	"click":       true,
	"scroll":      true,
	"input":       true,
	"keypress":    true,
	"mousemove":   true,
	"pointermove": true,
	"touchstart":  true,
	"touchmove":   true,
	"wheel":       true,
	"navigation":  true,
}

// Track captures a custom or DOM-sourced event. No-op unless a session is
// active; high-frequency types are throttled and bursty types debounced
// before queuing. Never returns an error to the host.
func (r *Recorder) Track(eventType string, data map[string]any) {
	_ = guard.Do(r.breaker, "recorder.track", func() error {
		r.track(eventType, data)
		return nil
	})
}

func (r *Recorder) track(eventType string, data map[string]any) {
	r.mu.Lock()
	m := r.machine
	gate := r.gate
	r.mu.Unlock()
	if m == nil || gate == nil || m.State() != session.Active {
		return
	}

	sess := m.Session()
	ev := event.Event{
		SessionID: sess.SessionID,
		Type:      eventType,
		Timestamp: r.clk.Now(),
		PageURL:   sess.PageURL,
		Data:      data,
	}
	if gate.Admit(ev) {
		r.enqueue(ev)
	}
	if qualifyingActivity[eventType] {
		m.Activity(eventType)
	}
}

// TrackNavigation records a page transition, updating the session's current
// URL before the navigation event is queued.
func (r *Recorder) TrackNavigation(url string) {
	_ = guard.Do(r.breaker, "recorder.navigation", func() error {
		r.mu.Lock()
		m := r.machine
		r.mu.Unlock()
		if m != nil {
			m.SetPageURL(url)
		}
		r.track("navigation", map[string]any{"url": url})
		return nil
	})
}

// Identify attaches a user identifier to the running session.
func (r *Recorder) Identify(userID string) {
	_ = guard.Do(r.breaker, "recorder.identify", func() error {
		r.mu.Lock()
		m := r.machine
		r.mu.Unlock()
		if m != nil {
			m.SetUser(userID)
		}
		return nil
	})
}

// Activity reports qualifying user activity that is not itself a tracked
// event (the host's own heuristics).
func (r *Recorder) Activity(kind string) {
	_ = guard.Do(r.breaker, "recorder.activity", func() error {
		r.mu.Lock()
		m := r.machine
		r.mu.Unlock()
		if m != nil {
			m.Activity(kind)
		}
		return nil
	})
}

// PageHidden reports that the page became hidden; a session still hidden
// when the secondary timer fires is ended.
func (r *Recorder) PageHidden() {
	_ = guard.Do(r.breaker, "recorder.hidden", func() error {
		if m := r.machineRef(); m != nil {
			m.Hidden()
		}
		return nil
	})
}

// PageVisible reports that the page became visible again.
func (r *Recorder) PageVisible() {
	_ = guard.Do(r.breaker, "recorder.visible", func() error {
		if m := r.machineRef(); m != nil {
			m.Visible()
		}
		return nil
	})
}

// PageUnloading reports page teardown; the session ends and the queue is
// flushed over the beacon path. Idempotent across beforeunload and
// pagehide.
func (r *Recorder) PageUnloading() {
	_ = guard.Do(r.breaker, "recorder.unload", func() error {
		if m := r.machineRef(); m != nil {
			m.Unloading()
		}
		return nil
	})
}

// EndSession ends the running session with a host-supplied reason.
func (r *Recorder) EndSession(reason string, extra map[string]any) {
	_ = guard.Do(r.breaker, "recorder.end", func() error {
		if m := r.machineRef(); m != nil {
			m.End(reason, extra)
		}
		return nil
	})
}

func (r *Recorder) machineRef() *session.Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machine
}

// Flush transmits the queued events now using normal delivery. The queue is
// snapshotted and cleared atomically, so no event lands in two batches.
func (r *Recorder) Flush(ctx context.Context) {
	_ = guard.Do(r.breaker, "recorder.flush", func() error {
		r.flush(ctx)
		return nil
	})
}

func (r *Recorder) flush(ctx context.Context) {
	r.mu.Lock()
	q := r.queue
	sender := r.sender
	m := r.machine
	r.stopFlushTimerLocked()
	r.mu.Unlock()
	if q == nil || sender == nil || m == nil {
		return
	}

	sess := m.Session()
	events := q.DrainSnapshot()
	metrics.QueueLength.Set(float64(q.Len()))
	if len(events) == 0 {
		return
	}
	r.validateBatchIdentity(&sess, events)

	remainder, _ := sender.Send(ctx, transport.Batch{SessionData: sess, Events: events})
	if len(remainder) > 0 {
		// The remainder must go out on the next cycle even if nothing else
		// is captured in the meantime.
		q.Requeue(remainder)
		metrics.QueueLength.Set(float64(q.Len()))
		r.mu.Lock()
		r.armFlushTimerLocked()
		r.mu.Unlock()
	}
}

// flushUrgent ships the queue over the fire-and-forget beacon path. Used on
// session end and page unload, where no response can be awaited.
func (r *Recorder) flushUrgent() {
	if r.breaker.Disabled() {
		return
	}
	r.mu.Lock()
	q := r.queue
	sender := r.sender
	m := r.machine
	r.stopFlushTimerLocked()
	r.mu.Unlock()
	if q == nil || sender == nil || m == nil {
		return
	}

	sess := m.Session()
	events := q.DrainSnapshot()
	metrics.QueueLength.Set(float64(q.Len()))
	if len(events) == 0 {
		return
	}
	r.validateBatchIdentity(&sess, events)
	sender.SendBeacon(transport.Batch{SessionData: sess, Events: events})
}

// validateBatchIdentity enforces the pre-transmission invariant: no invalid
// identifier is ever sent. Each invalid token is regenerated exactly once;
// a regenerated session token is rewritten onto the batch's events.
func (r *Recorder) validateBatchIdentity(sess *session.Session, events []event.Event) {
	if id, regen := identity.EnsureValid(sess.SessionID); regen {
		sess.SessionID = id
		for i := range events {
			events[i].SessionID = id
		}
		r.log.Warn("regenerated invalid session identifier")
	}
	if id, regen := identity.EnsureValid(sess.VisitorID); regen {
		sess.VisitorID = id
	}
	if id, regen := identity.EnsureValid(sess.GlobalVisitorID); regen {
		sess.GlobalVisitorID = id
	}
}
