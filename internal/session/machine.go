package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tracewell/recorder/internal/clock"
	"github.com/tracewell/recorder/internal/guard"
	"github.com/tracewell/recorder/internal/health"
	"github.com/tracewell/recorder/internal/identity"
	"github.com/tracewell/recorder/internal/metrics"
)

// Hooks connect the machine to the rest of the recorder without import
// cycles: emit queues a synthetic event, flushUrgent ships the queue over
// the beacon path, onEnd lets the owner stop dependent components.
type Hooks struct {
	Emit        func(eventType string, data map[string]any)
	FlushUrgent func()
	OnEnd       func(reason string)
}

// Machine drives one session instance through
// Uninitialized → Initializing → Active → Ended. Ended is terminal; a new
// init builds a new instance around the same machine via Reset semantics in
// the recorder.
type Machine struct {
	mu      sync.Mutex
	clk     clock.Clock
	log     *slog.Logger
	breaker *guard.Breaker
	health  *health.Metrics
	store   identity.Store
	hooks   Hooks

	state         State
	sess          Session
	processStart  time.Time
	inactivity    time.Duration
	hiddenTimeout time.Duration

	inactivityTimer clock.Timer
	hiddenTimer     clock.Timer
	hidden          bool
	endReason       string
}

// NewMachine creates a machine in the Uninitialized state.
func NewMachine(clk clock.Clock, log *slog.Logger, b *guard.Breaker, hm *health.Metrics, store identity.Store, inactivity, hiddenTimeout time.Duration, hooks Hooks) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		clk:           clk,
		log:           log,
		breaker:       b,
		health:        hm,
		store:         store,
		hooks:         hooks,
		processStart:  clk.Now(),
		inactivity:    inactivity,
		hiddenTimeout: hiddenTimeout,
	}
}

// State returns the current lifecycle phase.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the session context.
func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// EndReason returns the termination reason once Ended, else "".
func (m *Machine) EndReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endReason
}

// BeginInit moves to Initializing. Only valid from Uninitialized or Ended;
// the recorder serializes concurrent init attempts before calling.
func (m *Machine) BeginInit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Initializing || m.state == Active {
		return fmt.Errorf("session: init from state %s", m.state)
	}
	m.state = Initializing
	m.endReason = ""
	m.hidden = false
	return nil
}

// AbortInit returns to Uninitialized after a failed init.
func (m *Machine) AbortInit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Initializing {
		m.state = Uninitialized
	}
}

// Activate installs the session context, arms the inactivity timer and
// emits the synthetic session_start event.
func (m *Machine) Activate(sess Session) {
	m.mu.Lock()
	m.sess = sess
	m.state = Active
	m.inactivityTimer = m.clk.AfterFunc(m.inactivity, m.inactivityFired)
	m.mu.Unlock()

	m.hooks.Emit("session_start", map[string]any{
		"visitorId":       sess.VisitorID,
		"globalVisitorId": sess.GlobalVisitorID,
	})
	m.log.Debug("session started", "sessionId", sess.SessionID)
}

// Activity records qualifying user activity: the persisted last-activity
// timestamp is refreshed and the inactivity timer rescheduled.
func (m *Machine) Activity(kind string) {
	m.mu.Lock()
	if m.state != Active {
		m.mu.Unlock()
		return
	}
	now := m.clk.Now()
	if m.inactivityTimer != nil {
		m.inactivityTimer.Reset(m.inactivity)
	}
	projectID := m.sess.ProjectID
	m.mu.Unlock()

	if err := guard.Do(m.breaker, "session.touch", func() error {
		return m.store.Touch(projectID, now)
	}); err != nil {
		m.health.StorageErrors.Add(1)
		m.health.TotalErrors.Add(1)
	}
	m.log.Debug("activity observed", "kind", kind)
}

// Hidden starts the secondary visibility timer and records the change. The
// visibility event is emitted regardless of what the timer later decides.
func (m *Machine) Hidden() {
	m.mu.Lock()
	if m.state != Active {
		m.mu.Unlock()
		return
	}
	m.hidden = true
	if m.hiddenTimer != nil {
		m.hiddenTimer.Stop()
	}
	m.hiddenTimer = m.clk.AfterFunc(m.hiddenTimeout, m.hiddenFired)
	m.mu.Unlock()

	m.hooks.Emit("visibility_change", map[string]any{"visible": false})
}

// Visible cancels the hidden timer, records the change and counts as
// activity.
func (m *Machine) Visible() {
	m.mu.Lock()
	if m.state != Active {
		m.mu.Unlock()
		return
	}
	m.hidden = false
	if m.hiddenTimer != nil {
		m.hiddenTimer.Stop()
		m.hiddenTimer = nil
	}
	m.mu.Unlock()

	m.hooks.Emit("visibility_change", map[string]any{"visible": true})
	m.Activity("visibility")
}

// Unloading ends the session on page teardown. Idempotent: beforeunload and
// pagehide may both fire.
func (m *Machine) Unloading() {
	m.End(ReasonPageUnload, nil)
}

// SetUser updates the session's user identifier.
func (m *Machine) SetUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Active {
		m.sess.UserID = userID
	}
}

// SetPageURL updates the session's current page.
func (m *Machine) SetPageURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Active {
		m.sess.PageURL = url
	}
}

// End terminates the session: emits session_end with a sanity-clamped
// duration, flushes the queue over the urgent path, clears timers and the
// persisted session record. Idempotent; only the first call does anything.
func (m *Machine) End(reason string, extra map[string]any) {
	m.mu.Lock()
	if m.state != Active {
		m.mu.Unlock()
		return
	}
	m.state = Ended
	m.endReason = reason
	now := m.clk.Now()
	duration := now.Sub(m.sess.StartTime)
	if duration < 0 || duration > maxPlausibleDuration {
		// Corrupt start time; fall back to process uptime.
		duration = now.Sub(m.processStart)
		if duration < 0 {
			duration = 0
		}
	}
	if m.inactivityTimer != nil {
		m.inactivityTimer.Stop()
		m.inactivityTimer = nil
	}
	if m.hiddenTimer != nil {
		m.hiddenTimer.Stop()
		m.hiddenTimer = nil
	}
	projectID := m.sess.ProjectID
	m.mu.Unlock()

	data := map[string]any{
		"reason":     reason,
		"durationMs": duration.Milliseconds(),
	}
	for k, v := range extra {
		data[k] = v
	}
	m.hooks.Emit("session_end", data)
	m.hooks.FlushUrgent()

	// A stale "still active" record would let a dead session be resumed, so
	// the clear gets one retry.
	if err := guard.DoCritical(m.breaker, "session.clear", func() error {
		return m.store.ClearSession(projectID)
	}); err != nil {
		m.health.StorageErrors.Add(1)
		m.health.TotalErrors.Add(1)
	}

	metrics.SessionsEnded.WithLabelValues(reason).Inc()
	m.log.Debug("session ended", "reason", reason, "durationMs", duration.Milliseconds())
	if m.hooks.OnEnd != nil {
		m.hooks.OnEnd(reason)
	}
}

func (m *Machine) inactivityFired() {
	m.End(ReasonInactivityTimeout, nil)
}

func (m *Machine) hiddenFired() {
	m.mu.Lock()
	stillHidden := m.hidden && m.state == Active
	m.mu.Unlock()
	if stillHidden {
		m.End(ReasonTabHiddenTimeout, nil)
	}
}
