package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	localWriteGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "workoutsync",
		Subsystem: "local",
		Name:      "last_write_timestamp_seconds",
		Help:      "Unix timestamp of the most recent mutation committed to the local store.",
	})
	syncedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "workoutsync",
		Subsystem: "local",
		Name:      "last_synced_timestamp_seconds",
		Help:      "Unix timestamp of the most recent batch confirmed by the remote service.",
	})
)

func init() {
	prometheus.MustRegister(localWriteGauge, syncedGauge)
}

// RecordLocalWrite updates the local write watermark gauge.
func RecordLocalWrite(ts time.Time) {
	if ts.IsZero() {
		return
	}
	localWriteGauge.Set(float64(ts.Unix()))
}

// RecordSynced updates the synced watermark gauge.
func RecordSynced(ts time.Time) {
	if ts.IsZero() {
		return
	}
	syncedGauge.Set(float64(ts.Unix()))
}
