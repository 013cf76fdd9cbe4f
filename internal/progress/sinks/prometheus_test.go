package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-worker/internal/progress"
)

func TestPrometheusSinkRecordsLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{JobID: "a", Worker: "page", Stage: progress.StageEnqueued, TS: now},
		{JobID: "a", Worker: "page", Stage: progress.StageClaimed, TS: now},
		{JobID: "a", Worker: "page", Stage: progress.StageCacheHit, TS: now},
		{JobID: "a", Worker: "page", Stage: progress.StageCompleted, TS: now, Dur: 2 * time.Second},
		{JobID: "b", Worker: "youtube", Stage: progress.StageClaimed, TS: now},
		{JobID: "b", Worker: "youtube", Stage: progress.StageFailed, TS: now, Note: "timeout"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.enqueued.WithLabelValues("page")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.claimed.WithLabelValues("youtube")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.cacheHits.WithLabelValues("page")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.finished.WithLabelValues("page", "completed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.finished.WithLabelValues("youtube", "failed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.inFlight))
	require.Equal(t, 1, testutil.CollectAndCount(sink.jobRuntime, "crawl_job_runtime_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
