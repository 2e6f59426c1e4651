package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkscraper/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures job and fetch collectors follow the event stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{JobID: "a", TS: now, Stage: progress.StageJobSubmit},
		{JobID: "b", TS: now, Stage: progress.StageJobSubmit},
		{JobID: "a", TS: now, Stage: progress.StageJobStart},
		{JobID: "b", TS: now, Stage: progress.StageJobStart},
		{
			JobID:       "a",
			TS:          now,
			Stage:       progress.StageFetchDone,
			Site:        "example.com",
			Bytes:       2048,
			StatusClass: progress.Status2xx,
			Dur:         150 * time.Millisecond,
		},
		{JobID: "a", TS: now, Stage: progress.StageJobDone, Links: 12, Dur: time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsSubmitted))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsFinished.WithLabelValues("success")))
	require.Equal(t, 12.0, testutil.ToFloat64(sink.linksStored))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fetches.WithLabelValues("2xx")))
	require.InDelta(t, 2048.0, testutil.ToFloat64(sink.fetchBytes), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration, "scraper_fetch_duration_seconds"))

	// A repeated terminal event must not drive the gauge negative.
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "b", TS: now, Stage: progress.StageJobError, Note: "HTTP Error 500"},
		{JobID: "b", TS: now, Stage: progress.StageJobError, Note: "HTTP Error 500"},
	}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsFinished.WithLabelValues("error")))
}

func TestPrometheusSinkRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
