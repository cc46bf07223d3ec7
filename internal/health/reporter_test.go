package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tracewell/recorder/internal/clock"
)

func TestNextInterval(t *testing.T) {
	cases := []struct {
		name     string
		errDelta int64
		evDelta  int64
		want     time.Duration
	}{
		{"recent errors", 3, 10, intervalBusy},
		{"high activity", 0, 500, intervalBusy},
		{"fully idle", 0, 0, intervalIdle},
		{"steady traffic", 0, 10, intervalBase},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := nextInterval(tc.errDelta, tc.evDelta); got != tc.want {
				t.Errorf("nextInterval(%d, %d) = %v, want %v", tc.errDelta, tc.evDelta, got, tc.want)
			}
		})
	}
}

type capturingPoster struct {
	mu       sync.Mutex
	payloads []map[string]any
	fail     bool
}

func (p *capturingPoster) post(_ context.Context, payload map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("sink unavailable")
	}
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *capturingPoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

func TestReporterEmitsSnapshot(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	m := NewMetrics(clk.Now())
	m.EventsProcessed.Add(7)
	m.NetworkErrors.Add(2)

	p := &capturingPoster{}
	r := NewReporter(clk, nil, m, p.post, func() map[string]any {
		return map[string]any{"projectId": "p1"}
	})
	r.Start()
	defer r.Stop()

	clk.Advance(intervalBase)

	if p.count() != 1 {
		t.Fatalf("reports = %d, want 1", p.count())
	}
	got := p.payloads[0]
	if got["eventType"] != "health_report" {
		t.Errorf("eventType = %v, want health_report", got["eventType"])
	}
	if got["eventsProcessed"] != int64(7) {
		t.Errorf("eventsProcessed = %v, want 7", got["eventsProcessed"])
	}
	if got["projectId"] != "p1" {
		t.Errorf("projectId = %v, want merged context", got["projectId"])
	}
}

func TestReporterAdaptsCadence(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	m := NewMetrics(clk.Now())
	p := &capturingPoster{}
	r := NewReporter(clk, nil, m, p.post, nil)
	r.Start()
	defer r.Stop()

	// No activity at all: after the first report the reporter backs off to
	// the idle interval, so a base-interval advance produces nothing new.
	clk.Advance(intervalBase)
	if p.count() != 1 {
		t.Fatalf("reports = %d, want 1", p.count())
	}
	clk.Advance(intervalBase)
	if p.count() != 1 {
		t.Fatalf("reports = %d after idle back-off, want still 1", p.count())
	}
	clk.Advance(intervalIdle)
	if p.count() != 2 {
		t.Errorf("reports = %d after idle interval, want 2", p.count())
	}
}

func TestReporterFailuresAreAbsorbed(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	m := NewMetrics(clk.Now())
	p := &capturingPoster{fail: true}
	r := NewReporter(clk, nil, m, p.post, nil)
	r.Start()
	defer r.Stop()

	clk.Advance(intervalBase)

	if m.NetworkErrors.Load() != 1 {
		t.Errorf("network errors = %d, want 1 (counted, not propagated)", m.NetworkErrors.Load())
	}
	// The reporter stays alive after a failure.
	p.mu.Lock()
	p.fail = false
	p.mu.Unlock()
	clk.Advance(intervalIdle + intervalBusy)
	if p.count() == 0 {
		t.Error("reporter never recovered after a failed post")
	}
}

func TestReporterStop(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	m := NewMetrics(clk.Now())
	p := &capturingPoster{}
	r := NewReporter(clk, nil, m, p.post, nil)
	r.Start()
	r.Stop()

	clk.Advance(time.Hour)
	if p.count() != 0 {
		t.Errorf("stopped reporter emitted %d reports", p.count())
	}
}

func TestReportNow(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	m := NewMetrics(clk.Now())
	p := &capturingPoster{}
	r := NewReporter(clk, nil, m, p.post, func() map[string]any {
		return map[string]any{"sessionId": "s1"}
	})

	r.ReportNow("queue_overflow", map[string]any{"dropped": 250})

	if p.count() != 1 {
		t.Fatalf("reports = %d, want 1", p.count())
	}
	got := p.payloads[0]
	if got["eventType"] != "queue_overflow" || got["dropped"] != 250 || got["sessionId"] != "s1" {
		t.Errorf("payload = %v", got)
	}
}
