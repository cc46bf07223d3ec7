package recorder

import (
	"context"

	"github.com/tracewell/recorder/internal/config"
	"github.com/tracewell/recorder/internal/event"
	"github.com/tracewell/recorder/internal/guard"
	"github.com/tracewell/recorder/internal/health"
	"github.com/tracewell/recorder/internal/identity"
	"github.com/tracewell/recorder/internal/metrics"
	"github.com/tracewell/recorder/internal/session"
	"github.com/tracewell/recorder/internal/transport"
)

// Init validates cfg and starts (or resumes) a session. The only error ever
// surfaced is a configuration validation error; everything past validation
// is fail-safe. Concurrent calls while an init is in flight share its
// result. Calling again with the same project identifier while active is a
// no-op; a different project identifier tears the session down and starts a
// new one. On a disabled recorder Init is a silent no-op.
func (r *Recorder) Init(ctx context.Context, cfg Config) error {
	if r.breaker.Disabled() {
		return nil
	}
	cfg.Normalize()
	if err := config.Validate(&cfg); err != nil {
		return err
	}

	for {
		r.mu.Lock()
		if r.initializing {
			ch := r.initWait
			r.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			r.mu.Lock()
			err := r.initErr
			r.mu.Unlock()
			return err
		}
		if r.machine != nil && r.machine.State() == session.Active {
			if r.cfg != nil && r.cfg.ProjectID == cfg.ProjectID {
				r.mu.Unlock()
				return nil
			}
			m := r.machine
			r.mu.Unlock()
			m.End(session.ReasonProjectChanged, nil)
			r.teardownTimers()
			continue
		}
		r.initializing = true
		r.initWait = make(chan struct{})
		r.mu.Unlock()
		break
	}

	err := guard.Do(r.breaker, "recorder.init", func() error {
		r.start(cfg)
		return nil
	})
	if err != nil {
		// A fault inside start is contained; it must not surface. The
		// recorder simply stays uninitialized.
		err = nil
	}

	r.mu.Lock()
	r.initializing = false
	r.initErr = err
	close(r.initWait)
	r.mu.Unlock()
	return err
}

// start builds the full component graph for one session instance. Runs
// inside the guard; storage faults fall back to fresh in-memory identity.
func (r *Recorder) start(cfg Config) {
	now := r.clk.Now()

	var resumed bool
	rec, err := guard.DoValue(r.breaker, "identity.resume", func() (identity.Record, error) {
		rec, ok, err := identity.Resume(r.store, cfg.ProjectID, now, cfg.InactivityTimeout())
		resumed = ok
		return rec, err
	})
	if err != nil {
		r.healthm.StorageErrors.Add(1)
		r.healthm.TotalErrors.Add(1)
		rec = identity.Record{
			VisitorID:       identity.NewToken(),
			GlobalVisitorID: identity.NewToken(),
			SessionID:       identity.NewToken(),
			LastActivity:    now,
		}
	}

	queue := event.NewQueue(cfg.MaxQueueSize, func(dropped int) {
		metrics.QueueOverflows.Inc()
		metrics.EventsDropped.Add(float64(dropped))
		r.log.Warn("event queue overflow, oldest half evicted", "dropped", dropped)
		if rep := r.reporterRef(); rep != nil {
			go rep.ReportNow("queue_overflow", map[string]any{"dropped": dropped})
		}
	})

	sender := transport.NewSender(
		r.httpClient, r.clk, r.log, r.breaker, r.healthm,
		cfg.APIEndpoint, cfg.MetricsEndpoint, cfg.RequestTimeout(), cfg.MaxRetries,
	)

	machine := session.NewMachine(
		r.clk, r.log, r.breaker, r.healthm, r.store,
		cfg.InactivityTimeout(), cfg.HiddenTimeout(),
		session.Hooks{
			Emit:        r.emit,
			FlushUrgent: r.flushUrgent,
			OnEnd:       func(string) { r.teardownTimers() },
		},
	)
	_ = machine.BeginInit()

	gate := event.NewGate(r.clk, r.enqueue)

	sess := session.Session{
		SessionID:       rec.SessionID,
		VisitorID:       rec.VisitorID,
		GlobalVisitorID: rec.GlobalVisitorID,
		ProjectID:       cfg.ProjectID,
		UserID:          cfg.UserID,
		PageURL:         cfg.PageURL,
		StartTime:       now,
		DeviceInfo:      deviceInfo(),
		Metadata:        cfg.Metadata,
	}

	reporter := health.NewReporter(r.clk, r.log, r.healthm, sender.PostMetrics, func() map[string]any {
		return map[string]any{
			"projectId": cfg.ProjectID,
			"sessionId": r.SessionID(),
		}
	})

	r.mu.Lock()
	r.cfg = &cfg
	r.machine = machine
	r.queue = queue
	r.gate = gate
	r.sender = sender
	r.reporter = reporter
	r.mu.Unlock()

	machine.Activate(sess)
	reporter.Start()
	r.log.Info("recorder initialized",
		"projectId", cfg.ProjectID,
		"sessionId", rec.SessionID,
		"resumed", resumed,
	)
}

// emit queues a synthetic lifecycle event, bypassing the Active gate so
// session_end can be recorded during termination.
func (r *Recorder) emit(eventType string, data map[string]any) {
	if r.breaker.Disabled() {
		return
	}
	r.mu.Lock()
	m := r.machine
	r.mu.Unlock()
	if m == nil {
		return
	}
	sess := m.Session()
	r.enqueue(event.Event{
		SessionID: sess.SessionID,
		Type:      eventType,
		Timestamp: r.clk.Now(),
		PageURL:   sess.PageURL,
		Data:      data,
	})
}

// enqueue appends an accepted event and arms the flush triggers: an
// immediate flush once the batch size is reached, otherwise a flush timer
// anchored at the first unflushed event.
func (r *Recorder) enqueue(ev event.Event) {
	if r.breaker.Disabled() {
		return
	}
	r.mu.Lock()
	q := r.queue
	cfg := r.cfg
	r.mu.Unlock()
	if q == nil || cfg == nil {
		return
	}

	q.Append(ev)
	r.healthm.EventsProcessed.Add(1)
	metrics.EventsCaptured.Inc()
	metrics.QueueLength.Set(float64(q.Len()))

	r.mu.Lock()
	defer r.mu.Unlock()
	if q.Len() >= cfg.BatchSize {
		r.stopFlushTimerLocked()
		go r.Flush(context.Background())
	} else {
		r.armFlushTimerLocked()
	}
}

func (r *Recorder) flushTimerFired() {
	r.mu.Lock()
	r.flushPending = false
	r.flushTimer = nil
	r.mu.Unlock()
	go r.Flush(context.Background())
}
