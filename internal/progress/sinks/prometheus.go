package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/snapradar/archive-crawler/internal/progress"
)

// PrometheusSink exports pipeline progress metrics via Prometheus. It owns
// all collectors for job lifecycle, page discovery, and extraction outcomes.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	pagesFetched      *prometheus.CounterVec
	recordsDiscovered *prometheus.CounterVec
	pageFetchDuration *prometheus.HistogramVec

	recordsExtracted *prometheus.CounterVec
	recordsFailed    prometheus.Counter
	extractQuality   *prometheus.HistogramVec
	extractDuration  *prometheus.HistogramVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_jobs_started_total",
			Help: "Total jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_jobs_completed_total",
			Help: "Total jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_job_runtime_seconds",
			Help:    "Wall time per completed job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"result"}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_index_pages_fetched_total",
			Help: "Index pages fetched partitioned by archive source.",
		}, []string{"source"}),
		recordsDiscovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_records_discovered_total",
			Help: "Snapshot records discovered partitioned by archive source.",
		}, []string{"source"}),
		pageFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_index_page_duration_seconds",
			Help:    "Index page fetch duration partitioned by archive source.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"source"}),
		recordsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_records_extracted_total",
			Help: "Snapshots extracted partitioned by strategy.",
		}, []string{"method"}),
		recordsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_records_failed_total",
			Help: "Snapshots that failed extraction or persistence.",
		}),
		extractQuality: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_extraction_quality",
			Help:    "Extraction quality score partitioned by strategy.",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}, []string{"method"}),
		extractDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_extraction_duration_seconds",
			Help:    "Per-snapshot extraction duration partitioned by strategy.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15, 45},
		}, []string{"method"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.pagesFetched,
		s.recordsDiscovered,
		s.pageFetchDuration,
		s.recordsExtracted,
		s.recordsFailed,
		s.extractQuality,
		s.extractDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart, progress.StageJobDone, progress.StageJobError:
		s.handleJobEvent(evt)
	case progress.StagePageFetched:
		s.handlePageEvent(evt)
	case progress.StageRecordOK:
		s.recordsExtracted.WithLabelValues(evt.Method).Inc()
		s.extractQuality.WithLabelValues(evt.Method).Observe(evt.Quality)
		if evt.Dur > 0 {
			s.extractDuration.WithLabelValues(evt.Method).Observe(evt.Dur.Seconds())
		}
	case progress.StageRecordFailed:
		s.recordsFailed.Inc()
	}
}

func (s *PrometheusSink) handleJobEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.jobsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageJobError:
		s.jobsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageJobStart && s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handlePageEvent(evt progress.Event) {
	source := evt.Source
	if source == "" {
		source = "unknown"
	}
	s.pagesFetched.WithLabelValues(source).Inc()
	if evt.Records > 0 {
		s.recordsDiscovered.WithLabelValues(source).Add(float64(evt.Records))
	}
	if evt.Dur > 0 {
		s.pageFetchDuration.WithLabelValues(source).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[[16]byte]struct{})}
}

func (t *jobTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
