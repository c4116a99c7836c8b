package syncer

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workoutsync",
		Subsystem: "sync",
		Name:      "items_delivered_total",
		Help:      "Number of queue items confirmed by the remote service, labeled by type.",
	}, []string{"type"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workoutsync",
		Subsystem: "sync",
		Name:      "items_failed_total",
		Help:      "Number of queue items in a failed batch, labeled by type.",
	}, []string{"type"})

	deadLetteredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workoutsync",
		Subsystem: "sync",
		Name:      "items_dead_lettered_total",
		Help:      "Number of queue items moved to the dead-letter table, labeled by type.",
	}, []string{"type"})

	cyclesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workoutsync",
		Subsystem: "sync",
		Name:      "cycles_total",
		Help:      "Number of sync cycles, labeled by outcome.",
	}, []string{"outcome"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "workoutsync",
		Subsystem: "sync",
		Name:      "batch_duration_seconds",
		Help:      "Time spent in one remote batch call.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "workoutsync",
		Subsystem: "sync",
		Name:      "queue_depth",
		Help:      "Queue items seen at the start of the last cycle.",
	})

	backoffGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "workoutsync",
		Subsystem: "sync",
		Name:      "backoff_seconds",
		Help:      "Current backoff delay before the next automatic cycle.",
	})
)

const (
	outcomeSuccess = "success"
	outcomeFailed  = "failed"
	outcomeOffline = "offline"
	outcomeError   = "error"
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, deadLetteredCounter, cyclesCounter, batchDuration, queueDepthGauge, backoffGauge)
}
