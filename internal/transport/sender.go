// Package transport delivers event batches to the collection endpoint. It
// owns retry, rate-limit and payload-size handling, and the dedicated
// network circuit breaker. No failure escapes this layer: every outcome is
// counted, logged and absorbed.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tracewell/recorder/internal/clock"
	"github.com/tracewell/recorder/internal/event"
	"github.com/tracewell/recorder/internal/guard"
	"github.com/tracewell/recorder/internal/health"
	"github.com/tracewell/recorder/internal/metrics"
)

const (
	// MaxPayloadBytes is the serialized-batch size cap; larger batches are
	// split and never sent whole.
	MaxPayloadBytes = 500 * 1024

	// MaxNetworkErrors is the consecutive-failure count that trips the
	// network circuit breaker and disables the recorder.
	MaxNetworkErrors = 5

	minRetryDelay = time.Second
	maxRetryDelay = 60 * time.Second
	beaconTimeout = 5 * time.Second
)

// Sentinel outcomes; already counted when returned.
var (
	ErrEmptyBatch       = errors.New("transport: empty batch")
	ErrRateLimitCeiling = errors.New("transport: rate-limit retry ceiling reached, batch dropped")
	ErrPayloadTooLarge  = errors.New("transport: single event exceeds payload cap, dropped")
)

// RateLimitState tracks 429 handling. Reset to zero on any success.
type RateLimitState struct {
	RetryCount        int
	LastRetryDelay    time.Duration
	ConsecutiveErrors int
}

// Batch is the collection-endpoint payload.
type Batch struct {
	SessionData any           `json:"sessionData"`
	Events      []event.Event `json:"events"`
}

// Sender performs batch delivery. One Sender exists per recorder instance
// and serializes its rate-limit state behind a mutex.
type Sender struct {
	client          *http.Client
	clk             clock.Clock
	log             *slog.Logger
	breaker         *guard.Breaker
	health          *health.Metrics
	endpoint        string
	metricsEndpoint string
	maxRetries      int

	mu sync.Mutex
	rl RateLimitState
}

// NewSender creates a Sender posting batches to endpoint and health
// payloads to metricsEndpoint. client may be nil.
func NewSender(client *http.Client, clk clock.Clock, log *slog.Logger, b *guard.Breaker, hm *health.Metrics, endpoint, metricsEndpoint string, timeout time.Duration, maxRetries int) *Sender {
	if client == nil {
		client = &http.Client{}
	}
	// Copy so the caller's client keeps its own timeout.
	c := *client
	c.Timeout = timeout
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		client:          &c,
		clk:             clk,
		log:             log,
		breaker:         b,
		health:          hm,
		endpoint:        endpoint,
		metricsEndpoint: metricsEndpoint,
		maxRetries:      maxRetries,
	}
}

// RateLimit returns a copy of the current rate-limit state.
func (s *Sender) RateLimit() RateLimitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rl
}

// Send delivers a batch with normal (request/response) semantics. Oversized
// payloads are split in half: the first half is sent recursively and the
// rest comes back as remainder for the next flush cycle. HTTP 429 retries
// with capped backoff up to the ceiling, then the batch is dropped. Any
// other failure is counted toward the consecutive network-error threshold.
// The returned error is informational; it has already been absorbed.
func (s *Sender) Send(ctx context.Context, b Batch) (remainder []event.Event, err error) {
	if len(b.Events) == 0 {
		return nil, ErrEmptyBatch
	}

	body, err := json.Marshal(b)
	if err != nil {
		s.breaker.Fail("transport.marshal", err)
		metrics.BatchesDropped.WithLabelValues("marshal_error").Inc()
		return nil, err
	}

	if len(body) > MaxPayloadBytes {
		if len(b.Events) == 1 {
			s.log.Warn("dropping oversized event", "bytes", len(body))
			metrics.BatchesDropped.WithLabelValues("oversized").Inc()
			return nil, ErrPayloadTooLarge
		}
		half := len(b.Events) / 2
		rest := b.Events[half:]
		rem, err := s.Send(ctx, Batch{SessionData: b.SessionData, Events: b.Events[:half]})
		return append(rem, rest...), err
	}

	for {
		status, retryAfter, err := s.post(ctx, s.endpoint, body)
		switch {
		case err == nil && status >= 200 && status < 300:
			s.mu.Lock()
			s.rl = RateLimitState{}
			s.mu.Unlock()
			metrics.BatchesSent.WithLabelValues("normal").Inc()
			return nil, nil

		case err == nil && status == http.StatusTooManyRequests:
			delay, ceiling := s.nextRetryDelay(retryAfter)
			if ceiling {
				s.log.Warn("rate-limit retry ceiling reached, dropping batch", "events", len(b.Events))
				metrics.BatchesDropped.WithLabelValues("rate_limited").Inc()
				s.health.NetworkErrors.Add(1)
				return nil, ErrRateLimitCeiling
			}
			if err := s.clk.Sleep(ctx, delay); err != nil {
				metrics.BatchesDropped.WithLabelValues("cancelled").Inc()
				return nil, err
			}

		default:
			if err == nil {
				err = fmt.Errorf("collection endpoint returned HTTP %d", status)
			}
			s.networkFailure(err)
			metrics.BatchesDropped.WithLabelValues("network_error").Inc()
			return nil, err
		}
	}
}

// SendBeacon is the urgent/unload delivery path: fire-and-forget, no retry,
// no response required. The payload cap applies here too: oversized batches
// are split and each half beaconed separately. The payload is serialized
// synchronously so teardown cannot race the batch contents; transmission
// happens in the background.
func (s *Sender) SendBeacon(b Batch) {
	if len(b.Events) == 0 {
		return
	}
	body, err := json.Marshal(b)
	if err != nil {
		s.breaker.Fail("transport.beacon_marshal", err)
		return
	}
	if len(body) > MaxPayloadBytes {
		if len(b.Events) == 1 {
			s.log.Warn("dropping oversized event", "bytes", len(body))
			metrics.BatchesDropped.WithLabelValues("oversized").Inc()
			return
		}
		half := len(b.Events) / 2
		s.SendBeacon(Batch{SessionData: b.SessionData, Events: b.Events[:half]})
		s.SendBeacon(Batch{SessionData: b.SessionData, Events: b.Events[half:]})
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
		defer cancel()
		status, _, err := s.post(ctx, s.endpoint, body)
		if err != nil || status >= 400 {
			s.health.NetworkErrors.Add(1)
			s.log.Debug("beacon delivery failed", "status", status, "err", err)
			return
		}
		metrics.BatchesSent.WithLabelValues("beacon").Inc()
	}()
}

// PostMetrics delivers a health payload to the metrics endpoint. Single
// attempt; the caller treats failures as non-critical.
func (s *Sender) PostMetrics(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	status, _, err := s.post(ctx, s.metricsEndpoint, body)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("metrics endpoint returned HTTP %d", status)
	}
	return nil
}

// nextRetryDelay advances the rate-limit state and returns the wait before
// the next attempt. ceiling is true once the retry budget is exhausted.
func (s *Sender) nextRetryDelay(retryAfter time.Duration) (delay time.Duration, ceiling bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rl.RetryCount >= s.maxRetries {
		s.rl = RateLimitState{}
		return 0, true
	}
	switch {
	case retryAfter > 0:
		delay = retryAfter
	case s.rl.LastRetryDelay > 0:
		delay = s.rl.LastRetryDelay * 2
	default:
		delay = minRetryDelay
	}
	if delay < minRetryDelay {
		delay = minRetryDelay
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	s.rl.RetryCount++
	s.rl.LastRetryDelay = delay
	return delay, false
}

// networkFailure counts a non-429 delivery failure and trips the network
// breaker at the consecutive threshold.
func (s *Sender) networkFailure(err error) {
	s.health.NetworkErrors.Add(1)
	metrics.Errors.WithLabelValues("network").Inc()
	s.mu.Lock()
	s.rl.ConsecutiveErrors++
	trip := s.rl.ConsecutiveErrors >= MaxNetworkErrors
	s.mu.Unlock()
	s.log.Warn("batch delivery failed", "err", err)
	if trip {
		s.breaker.TripNetwork()
	}
}

// post issues one JSON POST and returns the status plus any Retry-After.
func (s *Sender) post(ctx context.Context, url string, body []byte) (status int, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After"), s.clk.Now()), nil
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
