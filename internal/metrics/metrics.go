package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recorder_events_captured_total",
		Help: "Total number of events accepted into the queue.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recorder_events_dropped_total",
		Help: "Total number of events evicted by queue overflow truncation.",
	})

	QueueOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recorder_queue_overflows_total",
		Help: "Total number of queue truncations (oldest half evicted).",
	})

	BatchesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_batches_sent_total",
		Help: "Total number of batches delivered, labelled by delivery mode.",
	}, []string{"mode"})

	BatchesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_batches_dropped_total",
		Help: "Total number of batches abandoned, labelled by reason.",
	}, []string{"reason"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_errors_total",
		Help: "Total number of caught errors, labelled by kind.",
	}, []string{"kind"})

	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_sessions_ended_total",
		Help: "Total number of session terminations, labelled by reason.",
	}, []string{"reason"})

	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_queue_length",
		Help: "Current number of events waiting in the queue.",
	})
)
