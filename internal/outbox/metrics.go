package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	enqueuedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workoutsync",
		Subsystem: "outbox",
		Name:      "items_enqueued_total",
		Help:      "Number of sync intents written to the outbox, including coalesced rewrites.",
	}, []string{"type"})

	deadLetterReplayCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workoutsync",
		Subsystem: "dead_letters",
		Name:      "replayed_total",
		Help:      "Number of dead letters replayed, labeled by outcome.",
	}, []string{"outcome"})

	deadLetterBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "workoutsync",
		Subsystem: "dead_letters",
		Name:      "queued_items",
		Help:      "Number of dead letters observed at the last listing.",
	})
)

func init() {
	prometheus.MustRegister(enqueuedCounter, deadLetterReplayCounter, deadLetterBacklogGauge)
}

func recordDeadLetterReplay(result RequeueResult) {
	outcome := "requeued"
	if result == Superseded {
		outcome = "superseded"
	}
	deadLetterReplayCounter.WithLabelValues(outcome).Inc()
}

func updateBacklogGauge(count int) {
	deadLetterBacklogGauge.Set(float64(count))
}
