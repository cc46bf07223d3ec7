// Package recorder is an embeddable, fail-safe session-event recorder. It
// captures interaction events reported by a host integration, batches them,
// and ships them to a collection endpoint. Every operation runs inside an
// error-containment boundary: no internal fault ever reaches the host, and
// repeated faults disable the recorder for the rest of the process.
package recorder

import (
	"log/slog"
	"net/http"
	"runtime"
	"sync"

	"github.com/tracewell/recorder/internal/clock"
	"github.com/tracewell/recorder/internal/config"
	"github.com/tracewell/recorder/internal/event"
	"github.com/tracewell/recorder/internal/guard"
	"github.com/tracewell/recorder/internal/health"
	"github.com/tracewell/recorder/internal/identity"
	"github.com/tracewell/recorder/internal/session"
	"github.com/tracewell/recorder/internal/transport"
)

// Config is the host-supplied recorder configuration.
type Config = config.Config

// Recorder is a single-instance session recorder: one per process lifetime,
// mirroring one-per-page-load in a browser embedding. Construct with New,
// or use the package-level Default instance.
type Recorder struct {
	log        *slog.Logger
	clk        clock.Clock
	breaker    *guard.Breaker
	store      identity.Store
	httpClient *http.Client
	healthm    *health.Metrics

	mu           sync.Mutex
	cfg          *config.Config
	machine      *session.Machine
	queue        *event.Queue
	gate         *event.Gate
	sender       *transport.Sender
	reporter     *health.Reporter
	flushTimer   clock.Timer
	flushPending bool
	initializing bool
	initWait     chan struct{}
	initErr      error
}

// Option customizes a Recorder at construction time.
type Option func(*Recorder)

// WithLogger routes internal diagnostics through log.
func WithLogger(log *slog.Logger) Option {
	return func(r *Recorder) { r.log = log }
}

// WithClock injects a clock; tests use a fake to drive timers.
func WithClock(clk clock.Clock) Option {
	return func(r *Recorder) { r.clk = clk }
}

// WithStore injects the identity store. The default is in-memory; the agent
// binary uses the SQLite store for cross-restart session continuation. The
// Recorder takes ownership and closes the store in Close.
func WithStore(store identity.Store) Option {
	return func(r *Recorder) { r.store = store }
}

// WithHTTPClient injects the HTTP client used for all transmissions.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recorder) { r.httpClient = c }
}

// NewSQLiteStore opens a durable identity store at path for use with
// WithStore.
func NewSQLiteStore(path string) (identity.Store, error) {
	return identity.NewSQLiteStore(path)
}

// New creates an uninitialized Recorder. Call Init to start a session.
func New(opts ...Option) *Recorder {
	r := &Recorder{}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.clk == nil {
		r.clk = clock.New()
	}
	if r.store == nil {
		r.store = identity.NewMemStore()
	}
	if r.httpClient == nil {
		r.httpClient = &http.Client{}
	}
	r.healthm = health.NewMetrics(r.clk.Now())
	r.breaker = guard.NewBreaker(r.log)
	r.breaker.OnWarn(func(count int64, context string) {
		if rep := r.reporterRef(); rep != nil {
			go rep.ReportNow("error_warning", map[string]any{
				"errorCount": count,
				"context":    context,
			})
		}
	})
	r.breaker.OnDisable(func(reason string) { r.teardownTimers() })
	return r
}

// Disable is the manual kill switch: the recorder becomes a permanent no-op
// until the process restarts.
func (r *Recorder) Disable() {
	r.breaker.Disable(guard.ReasonManual)
}

// Close ends the current session (if any) with reason "shutdown", stops all
// background work and closes the identity store. Safe to call repeatedly.
func (r *Recorder) Close() error {
	_ = guard.Do(r.breaker, "recorder.close", func() error {
		r.mu.Lock()
		m := r.machine
		r.mu.Unlock()
		if m != nil {
			m.End(session.ReasonShutdown, nil)
		}
		return nil
	})
	r.teardownTimers()
	return r.store.Close()
}

// teardownTimers stops everything that could fire after the recorder is
// disabled or closed, so no stale callback outlives the lifecycle.
func (r *Recorder) teardownTimers() {
	r.mu.Lock()
	rep := r.reporter
	gate := r.gate
	r.stopFlushTimerLocked()
	r.mu.Unlock()
	if rep != nil {
		rep.Stop()
	}
	if gate != nil {
		gate.Close()
	}
}

func (r *Recorder) stopFlushTimerLocked() {
	if r.flushTimer != nil {
		r.flushTimer.Stop()
		r.flushTimer = nil
	}
	r.flushPending = false
}

func (r *Recorder) armFlushTimerLocked() {
	if r.flushPending || r.cfg == nil {
		return
	}
	r.flushPending = true
	r.flushTimer = r.clk.AfterFunc(r.cfg.FlushInterval(), r.flushTimerFired)
}

func (r *Recorder) reporterRef() *health.Reporter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reporter
}

// deviceInfo describes the embedding runtime, the counterpart of the
// browser user-agent fields.
func deviceInfo() map[string]string {
	return map[string]string{
		"os":      runtime.GOOS,
		"arch":    runtime.GOARCH,
		"runtime": runtime.Version(),
	}
}
