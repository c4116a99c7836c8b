package syncer

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"example.com/workoutsync/internal/outbox"
)

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}

func TestCycleMetrics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.queue.EnqueueUpsertSession(ctx, session("s-1")))
	require.NoError(t, f.queue.EnqueueUpsertSet(ctx, set("a", "s-1", 0)))
	require.NoError(t, f.queue.EnqueueUpsertSet(ctx, set("b", "s-1", 1)))

	samples := histogramSampleCount(t)
	delivered := testutil.ToFloat64(deliveredCounter.WithLabelValues(string(outbox.TypeUpsertSet)))
	successes := testutil.ToFloat64(cyclesCounter.WithLabelValues(outcomeSuccess))

	_, err := f.processor().RunCycle(ctx)
	require.NoError(t, err)

	require.Equal(t, samples+2, histogramSampleCount(t))
	require.Equal(t, delivered+2, testutil.ToFloat64(deliveredCounter.WithLabelValues(string(outbox.TypeUpsertSet))))
	require.Equal(t, successes+1, testutil.ToFloat64(cyclesCounter.WithLabelValues(outcomeSuccess)))
	require.Equal(t, 3.0, testutil.ToFloat64(queueDepthGauge))
	require.Zero(t, testutil.ToFloat64(backoffGauge))

	f.signal.SetOnline(false)
	offline := testutil.ToFloat64(cyclesCounter.WithLabelValues(outcomeOffline))
	_, err = f.processor().RunCycle(ctx)
	require.ErrorIs(t, err, ErrOffline)
	require.Equal(t, offline+1, testutil.ToFloat64(cyclesCounter.WithLabelValues(outcomeOffline)))
}
