package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of a fetched sync event.
const (
	outcomeApplied     = "applied"
	outcomeDropped     = "dropped"
	outcomeUnsupported = "unsupported"
	outcomeUndecodable = "undecodable"
)

const unknownEventType = "unknown"

var (
	eventsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workoutsync",
		Subsystem: "consumer",
		Name:      "events_total",
		Help:      "Sync events fetched from Kafka by event type and what became of them.",
	}, []string{"event_type", "outcome"})

	applyRetriesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workoutsync",
		Subsystem: "consumer",
		Name:      "apply_retries_total",
		Help:      "Retried applies to the remote store, typically an end arriving before its session.",
	}, []string{"event_type"})

	applyLag = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "workoutsync",
		Subsystem: "consumer",
		Name:      "apply_lag_seconds",
		Help:      "Time between a device publishing a change and the remote store applying it.",
		Buckets:   []float64{0.05, 0.25, 1, 5, 30, 120, 600, 3600},
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(eventsCounter, applyRetriesCounter, applyLag)
}

func recordApplied(event Message, appliedAt time.Time) {
	eventsCounter.WithLabelValues(event.EventType, outcomeApplied).Inc()
	if !event.Timestamp.IsZero() && appliedAt.After(event.Timestamp) {
		applyLag.WithLabelValues(event.EventType).Observe(appliedAt.Sub(event.Timestamp).Seconds())
	}
}

func recordRejected(event Message, unsupported bool) {
	outcome := outcomeDropped
	if unsupported {
		outcome = outcomeUnsupported
	}
	eventsCounter.WithLabelValues(event.EventType, outcome).Inc()
}

func recordUndecodable(eventType string) {
	if eventType == "" {
		eventType = unknownEventType
	}
	eventsCounter.WithLabelValues(eventType, outcomeUndecodable).Inc()
}

func recordRetry(event Message) {
	applyRetriesCounter.WithLabelValues(event.EventType).Inc()
}
