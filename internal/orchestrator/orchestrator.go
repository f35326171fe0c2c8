// Package orchestrator drives one crawl job end to end: discovery through
// the router, bounded-concurrency extraction, persistence, indexing, and
// progress reporting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/archive"
	"github.com/snapradar/archive-crawler/internal/filter"
	"github.com/snapradar/archive-crawler/internal/progress"
	"github.com/snapradar/archive-crawler/internal/router"
)

// Config tunes orchestrator behavior beyond the per-job knobs.
type Config struct {
	// PersistRetries is how many times one Persist call is retried with
	// backoff before counting as a batch-level failure (default 3).
	PersistRetries int
	// PersistRetryDelay is the base delay between persist retries
	// (default 500ms).
	PersistRetryDelay time.Duration
	// DegradeThreshold is the count of consecutive batch-level failures
	// that moves the job to DEGRADED (default 3).
	DegradeThreshold int
	// FailThreshold is the count of consecutive batch-level failures that
	// fails the job outright (default 6). Must exceed DegradeThreshold.
	FailThreshold int
	// IndexTimeout bounds the fire-and-forget index publish (default 10s).
	IndexTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PersistRetries <= 0 {
		c.PersistRetries = 3
	}
	if c.PersistRetryDelay <= 0 {
		c.PersistRetryDelay = 500 * time.Millisecond
	}
	if c.DegradeThreshold <= 0 {
		c.DegradeThreshold = 3
	}
	if c.FailThreshold <= c.DegradeThreshold {
		c.FailThreshold = c.DegradeThreshold * 2
	}
	if c.IndexTimeout <= 0 {
		c.IndexTimeout = 10 * time.Second
	}
	return c
}

// Orchestrator runs crawl jobs. Safe for concurrent Run calls with distinct
// jobs.
type Orchestrator struct {
	cfg       Config
	router    *router.Router
	extractor archive.Extractor
	contents  archive.ContentStore
	indexer   archive.SearchIndexer
	emitter   progress.Emitter
	ids       archive.IDGenerator
	clock     archive.Clock
	logger    *zap.Logger
}

// New constructs an Orchestrator. A nil indexer disables indexing; a nil
// emitter disables progress events.
func New(
	rt *router.Router,
	extractor archive.Extractor,
	contents archive.ContentStore,
	indexer archive.SearchIndexer,
	emitter progress.Emitter,
	ids archive.IDGenerator,
	clock archive.Clock,
	logger *zap.Logger,
	cfg Config,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		router:    rt,
		extractor: extractor,
		contents:  contents,
		indexer:   indexer,
		emitter:   emitter,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}
}

// jobRun is the mutable state of one Run call.
type jobRun struct {
	job      archive.CrawlJob
	jobID    [16]byte
	counters archive.JobCounters
	mu       sync.Mutex

	consecutiveBatchFailures int
	degraded                 bool
	startedAt                time.Time
}

func (r *jobRun) addExtracted() {
	r.mu.Lock()
	r.counters.Extracted++
	r.mu.Unlock()
}

func (r *jobRun) addFailed() {
	r.mu.Lock()
	r.counters.Failed++
	r.mu.Unlock()
}

func (r *jobRun) snapshot() archive.JobCounters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters
}

// Run executes one job to a terminal status. The returned error is non-nil
// for FAILED and CANCELLED outcomes; a DEGRADED job that finishes its stream
// returns nil.
func (o *Orchestrator) Run(ctx context.Context, job archive.CrawlJob) error {
	job.Config = job.Config.ApplyDefaults()
	if err := job.Config.Validate(); err != nil {
		return fmt.Errorf("invalid job config: %w", err)
	}
	if job.ID == "" {
		id, err := o.ids.NewID()
		if err != nil {
			return fmt.Errorf("generate job id: %w", err)
		}
		job.ID = id
	}
	if job.DomainID == "" {
		job.DomainID = job.Domain
	}

	run := &jobRun{
		job:       job,
		jobID:     progress.ParseJobID(job.ID),
		startedAt: o.clock.Now(),
	}

	job.Status = archive.JobStatusQueued
	job.Submitted = run.startedAt
	if err := o.contents.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	o.setStatus(ctx, run, archive.JobStatusRunning, "")
	o.emit(progress.Event{JobID: run.jobID, TS: o.clock.Now(), Stage: progress.StageJobStart})

	err := o.drive(ctx, run)
	return o.finish(ctx, run, err)
}

// drive pulls filtered decisions in batches and fans each batch out to the
// worker pool. The router stream is only advanced between batches, so a busy
// pool applies backpressure all the way to page fetching.
func (o *Orchestrator) drive(ctx context.Context, run *jobRun) error {
	attachments := make(map[archive.Source]bool, len(run.job.Config.Sources))
	for src, ov := range run.job.Config.Sources {
		attachments[src] = ov.IncludeAttachments
	}
	filt := filter.New(filter.NewDigestSet(), o.clock, o.logger).AllowAttachments(attachments)
	stream := o.router.QueryArchive(ctx, run.job, filt)

	batchSize := run.job.Config.BatchSize
	batch := make([]archive.FilterDecision, 0, batchSize)
	for decision := range stream.Decisions() {
		batch = append(batch, decision)
		if len(batch) < batchSize {
			continue
		}
		if err := o.processBatch(ctx, run, batch); err != nil {
			return err
		}
		batch = batch[:0]
	}
	if len(batch) > 0 {
		if err := o.processBatch(ctx, run, batch); err != nil {
			return err
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("discovery stream: %w", err)
	}
	return nil
}

// processBatch runs one batch through the pool and applies the batch-level
// failure policy. Cancellation is honored here, at the batch boundary.
func (o *Orchestrator) processBatch(ctx context.Context, run *jobRun, batch []archive.FilterDecision) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	kept := make([]archive.FilterDecision, 0, len(batch))
	run.mu.Lock()
	for _, d := range batch {
		run.counters.Discovered++
		if d.Kept() {
			kept = append(kept, d)
		} else {
			run.counters.Filtered++
		}
	}
	run.mu.Unlock()
	filter.SortByPriority(kept)

	persistFailures := o.extractAll(ctx, run, kept)

	if persistFailures > 0 {
		run.consecutiveBatchFailures++
		o.logger.Warn("batch had persistence failures",
			zap.String("job_id", run.job.ID),
			zap.Int("failures", persistFailures),
			zap.Int("consecutive_bad_batches", run.consecutiveBatchFailures),
		)
	} else {
		run.consecutiveBatchFailures = 0
	}

	switch {
	case run.consecutiveBatchFailures >= o.cfg.FailThreshold:
		return fmt.Errorf("persistence failed for %d consecutive batches", run.consecutiveBatchFailures)
	case run.consecutiveBatchFailures >= o.cfg.DegradeThreshold && !run.degraded:
		run.degraded = true
		o.setStatus(ctx, run, archive.JobStatusDegraded, "repeated persistence failures")
		o.emit(progress.Event{
			JobID: run.jobID,
			TS:    o.clock.Now(),
			Stage: progress.StageJobDegraded,
			Note:  "repeated persistence failures",
		})
	}

	o.emitBatchProgress(run, batch)
	return nil
}

// extractAll processes the kept records of one batch with bounded
// concurrency and reports how many hit persistence errors.
func (o *Orchestrator) extractAll(ctx context.Context, run *jobRun, kept []archive.FilterDecision) int {
	if len(kept) == 0 {
		return 0
	}

	sem := make(chan struct{}, run.job.Config.ConcurrencyLimit)
	var (
		wg              sync.WaitGroup
		failMu          sync.Mutex
		persistFailures int
	)
	for _, d := range kept {
		if ctx.Err() != nil {
			break
		}
		d := d
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if perr := o.processRecord(ctx, run, d); perr {
				failMu.Lock()
				persistFailures++
				failMu.Unlock()
			}
		}()
	}
	wg.Wait()
	return persistFailures
}

// processRecord extracts and persists one snapshot. The bool result reports
// a persistence failure; extraction failures only bump the failed counter.
func (o *Orchestrator) processRecord(ctx context.Context, run *jobRun, d archive.FilterDecision) bool {
	rec := d.Record

	exists, err := o.contents.Exists(ctx, rec.URL, rec.Timestamp)
	if err != nil {
		o.logger.Warn("existence check failed",
			zap.String("job_id", run.job.ID), zap.String("url", rec.URL), zap.Error(err))
	} else if exists {
		run.addExtracted()
		return false
	}

	start := o.clock.Now()
	content, err := o.extractor.Extract(ctx, rec.URL, rec.Timestamp)
	if err != nil {
		run.addFailed()
		o.logger.Warn("extraction failed",
			zap.String("job_id", run.job.ID),
			zap.String("url", rec.URL),
			zap.Error(err),
		)
		o.emit(progress.Event{
			JobID: run.jobID,
			TS:    o.clock.Now(),
			Stage: progress.StageRecordFailed,
			URL:   rec.URL,
			Note:  err.Error(),
		})
		return false
	}

	if err := o.persistWithRetry(ctx, run.job.ID, content); err != nil {
		run.addFailed()
		o.logger.Error("persist failed after retries",
			zap.String("job_id", run.job.ID), zap.String("url", rec.URL), zap.Error(err))
		return true
	}
	run.addExtracted()

	o.index(content)
	o.emit(progress.Event{
		JobID:   run.jobID,
		TS:      o.clock.Now(),
		Stage:   progress.StageRecordOK,
		URL:     rec.URL,
		Method:  string(content.Method),
		Quality: content.QualityScore,
		Words:   int64(content.WordCount),
		Dur:     o.clock.Now().Sub(start),
	})
	return false
}

func (o *Orchestrator) persistWithRetry(ctx context.Context, jobID string, content archive.ExtractedContent) error {
	var err error
	delay := o.cfg.PersistRetryDelay
	for attempt := 0; attempt < o.cfg.PersistRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
		if err = o.contents.Persist(ctx, jobID, content); err == nil {
			return nil
		}
	}
	return err
}

// index ships one document to the search index. Fire-and-forget: a fresh
// context so job cancellation does not lose the publish, errors only logged.
func (o *Orchestrator) index(content archive.ExtractedContent) {
	if o.indexer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.IndexTimeout)
	defer cancel()
	if err := o.indexer.IndexBatch(ctx, []archive.ExtractedContent{content}); err != nil {
		o.logger.Warn("index publish failed", zap.String("url", content.SourceURL), zap.Error(err))
	}
}

func (o *Orchestrator) emitBatchProgress(run *jobRun, batch []archive.FilterDecision) {
	c := run.snapshot()
	// The router streams one source at a time, so the last record names the
	// source this batch came from.
	var src archive.Source
	if len(batch) > 0 {
		src = batch[len(batch)-1].Record.Source
	}
	o.emit(progress.Event{
		JobID:  run.jobID,
		TS:     o.clock.Now(),
		Stage:  progress.StageBatchDone,
		Source: string(src),
		Counters: progress.BatchCounters{
			Discovered: c.Discovered,
			Filtered:   c.Filtered,
			Extracted:  c.Extracted,
			Failed:     c.Failed,
		},
	})
}

// finish maps the drive outcome to a terminal status and reports it.
func (o *Orchestrator) finish(ctx context.Context, run *jobRun, driveErr error) error {
	// Status writes must survive job cancellation.
	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	elapsed := o.clock.Now().Sub(run.startedAt)
	switch {
	case driveErr == nil:
		status := archive.JobStatusCompleted
		if run.degraded {
			status = archive.JobStatusDegraded
		}
		o.setStatus(statusCtx, run, status, "")
		o.emit(progress.Event{JobID: run.jobID, TS: o.clock.Now(), Stage: progress.StageJobDone, Dur: elapsed})
		return nil
	case errors.Is(driveErr, context.Canceled):
		o.setStatus(statusCtx, run, archive.JobStatusCancelled, driveErr.Error())
		o.emit(progress.Event{
			JobID: run.jobID, TS: o.clock.Now(), Stage: progress.StageJobError,
			Dur: elapsed, Note: "cancelled",
		})
		return driveErr
	default:
		o.setStatus(statusCtx, run, archive.JobStatusFailed, driveErr.Error())
		o.emit(progress.Event{
			JobID: run.jobID, TS: o.clock.Now(), Stage: progress.StageJobError,
			Dur: elapsed, Note: driveErr.Error(),
		})
		return driveErr
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, run *jobRun, status archive.JobStatus, errText string) {
	if err := o.contents.UpdateJobStatus(ctx, run.job.ID, status, errText, run.snapshot()); err != nil {
		o.logger.Error("job status update failed",
			zap.String("job_id", run.job.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(evt)
}
