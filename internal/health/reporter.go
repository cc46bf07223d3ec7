package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tracewell/recorder/internal/clock"
)

// Adaptive reporting intervals: report often while things are going wrong
// or traffic is heavy, rarely while idle.
const (
	intervalBusy = 15 * time.Second
	intervalBase = time.Minute
	intervalIdle = 5 * time.Minute

	busyEventDelta = 100
	reportTimeout  = 10 * time.Second
)

// Poster delivers a health payload to the metrics sink. Implemented by the
// transport layer.
type Poster func(ctx context.Context, payload map[string]any) error

// Reporter periodically emits a Metrics snapshot. Reporting failures are
// non-critical: they are counted and logged, never propagated.
type Reporter struct {
	mu      sync.Mutex
	clk     clock.Clock
	log     *slog.Logger
	metrics *Metrics
	post    Poster
	context func() map[string]any

	timer      clock.Timer
	stopped    bool
	lastErrors int64
	lastEvents int64
}

// NewReporter creates a stopped reporter. context supplies the identifying
// fields (projectId, sessionId) merged into every payload.
func NewReporter(clk clock.Clock, log *slog.Logger, m *Metrics, post Poster, context func() map[string]any) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{clk: clk, log: log, metrics: m, post: post, context: context}
}

// Start schedules the first report. Safe to call once.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.timer != nil {
		return
	}
	r.lastErrors = r.metrics.TotalErrors.Load()
	r.lastEvents = r.metrics.EventsProcessed.Load()
	r.timer = r.clk.AfterFunc(intervalBase, r.tick)
}

// Stop cancels future reports.
func (r *Reporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
	}
}

func (r *Reporter) tick() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	errDelta := r.metrics.TotalErrors.Load() + r.metrics.NetworkErrors.Load() - r.lastErrors
	evDelta := r.metrics.EventsProcessed.Load() - r.lastEvents
	r.lastErrors = r.metrics.TotalErrors.Load() + r.metrics.NetworkErrors.Load()
	r.lastEvents = r.metrics.EventsProcessed.Load()
	r.mu.Unlock()

	r.report()

	r.mu.Lock()
	if !r.stopped && r.timer != nil {
		r.timer.Reset(nextInterval(errDelta, evDelta))
	}
	r.mu.Unlock()
}

// nextInterval picks the adaptive reporting cadence from recent deltas.
func nextInterval(errDelta, evDelta int64) time.Duration {
	switch {
	case errDelta > 0 || evDelta > busyEventDelta:
		return intervalBusy
	case evDelta == 0:
		return intervalIdle
	default:
		return intervalBase
	}
}

func (r *Reporter) report() {
	now := r.clk.Now()
	snap := r.metrics.Snapshot(now)
	payload := map[string]any{
		"eventType":       "health_report",
		"totalErrors":     snap.TotalErrors,
		"networkErrors":   snap.NetworkErrors,
		"storageErrors":   snap.StorageErrors,
		"eventsProcessed": snap.EventsProcessed,
		"uptimeMs":        snap.UptimeMs,
	}
	if r.context != nil {
		for k, v := range r.context() {
			payload[k] = v
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	if err := r.post(ctx, payload); err != nil {
		r.metrics.NetworkErrors.Add(1)
		r.log.Debug("health report failed", "err", err)
		return
	}
	r.metrics.MarkReported(now)
}

// ReportNow emits an out-of-band payload (overflow and threshold warnings)
// through the same non-critical path.
func (r *Reporter) ReportNow(eventType string, fields map[string]any) {
	payload := map[string]any{"eventType": eventType}
	for k, v := range fields {
		payload[k] = v
	}
	if r.context != nil {
		for k, v := range r.context() {
			payload[k] = v
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	if err := r.post(ctx, payload); err != nil {
		r.metrics.NetworkErrors.Add(1)
		r.log.Debug("health signal failed", "eventType", eventType, "err", err)
	}
}
