package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tracewell/recorder/internal/clock"
	"github.com/tracewell/recorder/internal/event"
	"github.com/tracewell/recorder/internal/guard"
	"github.com/tracewell/recorder/internal/health"
	"github.com/tracewell/recorder/internal/transport"
)

// autoAdvance drives a fake clock forward in the background so retry waits
// inside Send resolve without real sleeping.
func autoAdvance(t *testing.T, clk *clock.Fake) (stop func()) {
	t.Helper()
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case <-done:
				return
			default:
				clk.Advance(61 * time.Second)
				time.Sleep(time.Millisecond)
			}
		}
	}()
	return func() { close(done); <-finished }
}

func newSender(t *testing.T, clk clock.Clock, url string, maxRetries int) (*transport.Sender, *guard.Breaker, *health.Metrics) {
	t.Helper()
	b := guard.NewBreaker(nil)
	hm := health.NewMetrics(time.Now())
	s := transport.NewSender(nil, clk, nil, b, hm, url, url, 5*time.Second, maxRetries)
	return s, b, hm
}

func batchOf(n int) transport.Batch {
	events := make([]event.Event, n)
	for i := range events {
		events[i] = event.Event{SessionID: "s", Type: "click", Timestamp: time.Now(), Data: map[string]any{"n": i}}
	}
	return transport.Batch{SessionData: map[string]any{"sessionId": "s"}, Events: events}
}

func TestSendSuccessResetsState(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var payload struct {
			Events []map[string]any `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		if len(payload.Events) != 3 {
			t.Errorf("received %d events, want 3", len(payload.Events))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, b, _ := newSender(t, clock.New(), srv.URL, 5)
	rem, err := s.Send(context.Background(), batchOf(3))
	if err != nil || len(rem) != 0 {
		t.Fatalf("Send = (%v, %v)", rem, err)
	}
	if requests.Load() != 1 {
		t.Errorf("requests = %d, want 1", requests.Load())
	}
	if rl := s.RateLimit(); rl != (transport.RateLimitState{}) {
		t.Errorf("rate-limit state not reset: %+v", rl)
	}
	if b.Disabled() {
		t.Error("breaker tripped on success")
	}
}

func TestSendRetriesOn429ThenSucceeds(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	stop := autoAdvance(t, clk)
	defer stop()

	s, b, _ := newSender(t, clk, srv.URL, 5)
	if _, err := s.Send(context.Background(), batchOf(1)); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if requests.Load() != 2 {
		t.Errorf("requests = %d, want 2 (one retry)", requests.Load())
	}
	if b.Disabled() {
		t.Error("breaker tripped by a recovered 429")
	}
}

func TestSendDropsBatchAtRetryCeiling(t *testing.T) {
	const maxRetries = 5
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	stop := autoAdvance(t, clk)
	defer stop()

	s, b, _ := newSender(t, clk, srv.URL, maxRetries)
	_, err := s.Send(context.Background(), batchOf(2))
	if !errors.Is(err, transport.ErrRateLimitCeiling) {
		t.Fatalf("err = %v, want ErrRateLimitCeiling", err)
	}
	if got := requests.Load(); got != maxRetries+1 {
		t.Errorf("requests = %d, want %d", got, maxRetries+1)
	}
	// Rate limiting alone must never disable the recorder.
	if b.Disabled() {
		t.Error("breaker tripped by rate limiting")
	}
}

func TestConsecutiveNetworkErrorsTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, b, hm := newSender(t, clock.New(), srv.URL, 5)
	for i := 0; i < transport.MaxNetworkErrors; i++ {
		if b.Disabled() {
			t.Fatalf("breaker tripped early, after %d failures", i)
		}
		if _, err := s.Send(context.Background(), batchOf(1)); err == nil {
			t.Fatal("Send succeeded against a 503 endpoint")
		}
	}
	if !b.Disabled() {
		t.Fatal("breaker not tripped at the consecutive-error threshold")
	}
	if got := b.Reason(); got != guard.ReasonNetworkErrorThreshold {
		t.Errorf("reason = %q, want %q", got, guard.ReasonNetworkErrorThreshold)
	}
	if hm.NetworkErrors.Load() != transport.MaxNetworkErrors {
		t.Errorf("network errors = %d, want %d", hm.NetworkErrors.Load(), transport.MaxNetworkErrors)
	}
}

func TestSuccessResetsConsecutiveErrors(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Fail, fail, succeed, repeatedly: never enough in a row to trip.
		if requests.Add(1)%3 == 0 {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s, b, _ := newSender(t, clock.New(), srv.URL, 5)
	for i := 0; i < 12; i++ {
		_, _ = s.Send(context.Background(), batchOf(1))
	}
	if b.Disabled() {
		t.Error("breaker tripped despite interleaved successes")
	}
}

func TestOversizedBatchIsSplit(t *testing.T) {
	var got atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Events []map[string]any `json:"events"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		got.Add(int64(len(payload.Events)))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, _, _ := newSender(t, clock.New(), srv.URL, 5)

	// Two ~300 KB events: the combined payload exceeds the 500 KB cap, so
	// only the first half is sent and the rest comes back as remainder.
	big := strings.Repeat("x", 300*1024)
	b := transport.Batch{
		SessionData: map[string]any{"sessionId": "s"},
		Events: []event.Event{
			{SessionID: "s", Type: "click", Data: map[string]any{"blob": big, "n": 0}},
			{SessionID: "s", Type: "click", Data: map[string]any{"blob": big, "n": 1}},
		},
	}
	rem, err := s.Send(context.Background(), b)
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(rem) != 1 {
		t.Fatalf("remainder = %d events, want 1", len(rem))
	}
	if rem[0].Data["n"] != 1 {
		t.Errorf("remainder holds event n=%v, want the second half", rem[0].Data["n"])
	}
	if got.Load() != 1 {
		t.Errorf("server received %d events, want 1", got.Load())
	}
}

func TestSingleOversizedEventIsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("oversized payload was transmitted")
	}))
	defer srv.Close()

	s, _, _ := newSender(t, clock.New(), srv.URL, 5)
	b := transport.Batch{Events: []event.Event{
		{Type: "blob", Data: map[string]any{"blob": strings.Repeat("x", 600*1024)}},
	}}
	_, err := s.Send(context.Background(), b)
	if !errors.Is(err, transport.ErrPayloadTooLarge) {
		t.Errorf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestSendEmptyBatch(t *testing.T) {
	s, _, _ := newSender(t, clock.New(), "http://127.0.0.1:0", 5)
	if _, err := s.Send(context.Background(), transport.Batch{}); !errors.Is(err, transport.ErrEmptyBatch) {
		t.Errorf("err = %v, want ErrEmptyBatch", err)
	}
}

func TestSendBeaconDelivers(t *testing.T) {
	received := make(chan int, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Events []map[string]any `json:"events"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		received <- len(payload.Events)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, _, _ := newSender(t, clock.New(), srv.URL, 5)
	s.SendBeacon(batchOf(2))

	select {
	case n := <-received:
		if n != 2 {
			t.Errorf("beacon delivered %d events, want 2", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("beacon never arrived")
	}
}

func TestSendBeaconSplitsOversizedBatch(t *testing.T) {
	type request struct {
		bytes  int
		events int
	}
	received := make(chan request, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Events []map[string]any `json:"events"`
		}
		_ = json.Unmarshal(body, &payload)
		received <- request{bytes: len(body), events: len(payload.Events)}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, _, _ := newSender(t, clock.New(), srv.URL, 5)

	// Two ~300 KB events exceed the cap together; the beacon path must split
	// them and never put an oversized payload on the wire.
	big := strings.Repeat("x", 300*1024)
	s.SendBeacon(transport.Batch{
		SessionData: map[string]any{"sessionId": "s"},
		Events: []event.Event{
			{SessionID: "s", Type: "click", Data: map[string]any{"blob": big, "n": 0}},
			{SessionID: "s", Type: "click", Data: map[string]any{"blob": big, "n": 1}},
		},
	})

	total := 0
	for i := 0; i < 2; i++ {
		select {
		case req := <-received:
			if req.bytes > transport.MaxPayloadBytes {
				t.Errorf("beacon payload = %d bytes, exceeds cap %d", req.bytes, transport.MaxPayloadBytes)
			}
			total += req.events
		case <-time.After(3 * time.Second):
			t.Fatalf("received %d beacon requests, want 2", i)
		}
	}
	if total != 2 {
		t.Errorf("delivered %d events across beacons, want 2", total)
	}
}

func TestSendBeaconDropsSingleOversizedEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("oversized beacon payload was transmitted")
	}))
	defer srv.Close()

	s, _, _ := newSender(t, clock.New(), srv.URL, 5)
	s.SendBeacon(transport.Batch{Events: []event.Event{
		{Type: "blob", Data: map[string]any{"blob": strings.Repeat("x", 600*1024)}},
	}})
	time.Sleep(100 * time.Millisecond)
}

func TestNewSenderLeavesInjectedClientUntouched(t *testing.T) {
	client := &http.Client{}
	_ = transport.NewSender(client, clock.New(), nil, guard.NewBreaker(nil), health.NewMetrics(time.Now()), "http://example.com", "http://example.com", 5*time.Second, 5)
	if client.Timeout != 0 {
		t.Errorf("injected client timeout mutated to %v", client.Timeout)
	}
}

func TestPostMetrics(t *testing.T) {
	var gotType atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		gotType.Store(payload["eventType"])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, _, _ := newSender(t, clock.New(), srv.URL, 5)
	if err := s.PostMetrics(context.Background(), map[string]any{"eventType": "health_report"}); err != nil {
		t.Fatalf("PostMetrics error: %v", err)
	}
	if gotType.Load() != "health_report" {
		t.Errorf("eventType = %v, want health_report", gotType.Load())
	}
}
