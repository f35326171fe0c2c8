package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/snapradar/archive-crawler/internal/progress"
)

func TestPrometheusSink_Consume(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	jobID := [16]byte{1, 2, 3}
	now := time.Now().UTC()
	batch := []progress.Event{
		{JobID: jobID, TS: now, Stage: progress.StageJobStart},
		{JobID: jobID, TS: now, Stage: progress.StagePageFetched, Source: "wayback", Records: 120, Dur: time.Second},
		{JobID: jobID, TS: now, Stage: progress.StageRecordOK, Method: "readability", Quality: 0.8, Dur: 200 * time.Millisecond},
		{JobID: jobID, TS: now, Stage: progress.StageRecordFailed, URL: "https://example.org/a"},
		{JobID: jobID, TS: now, Stage: progress.StageJobDone, Dur: time.Minute},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.pagesFetched.WithLabelValues("wayback")))
	require.Equal(t, 120.0, testutil.ToFloat64(sink.recordsDiscovered.WithLabelValues("wayback")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.recordsExtracted.WithLabelValues("readability")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.recordsFailed))
}

func TestPrometheusSink_RunningGaugeTracksDistinctJobs(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	batch := []progress.Event{
		{JobID: [16]byte{1}, TS: now, Stage: progress.StageJobStart},
		{JobID: [16]byte{1}, TS: now, Stage: progress.StageJobStart}, // duplicate start
		{JobID: [16]byte{2}, TS: now, Stage: progress.StageJobStart},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: [16]byte{1}, TS: now, Stage: progress.StageJobError},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsRunning))
}
