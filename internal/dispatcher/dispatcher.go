// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/archive"
	"github.com/snapradar/archive-crawler/internal/queue"
)

// JobRunner executes one crawl job to a terminal status.
type JobRunner interface {
	Run(ctx context.Context, job archive.CrawlJob) error
}

// Config tunes the dispatcher pool.
type Config struct {
	// Workers is the number of concurrent job slots (default 4).
	Workers int
	// JobTimeout bounds a single job run; zero means no limit.
	JobTimeout time.Duration
}

// Dispatcher fans queued jobs out to a fixed pool of runner goroutines and
// tracks running jobs so the API can cancel them.
type Dispatcher struct {
	queue  queue.JobQueue
	runner JobRunner
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New creates a Dispatcher.
func New(q queue.JobQueue, runner JobRunner, logger *zap.Logger, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   q,
		runner:  runner,
		cfg:     cfg,
		logger:  logger,
		running: make(map[string]context.CancelFunc),
	}
}

// Run starts the worker pool and blocks until the context finishes and all
// in-flight jobs return.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			d.loop(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, slot int) {
	logger := d.logger.With(zap.Int("slot", slot))
	for {
		job, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Info("job queue closed, worker exiting")
			}
			return
		}
		d.execute(ctx, logger, job)
	}
}

func (d *Dispatcher) execute(ctx context.Context, logger *zap.Logger, job archive.CrawlJob) {
	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if d.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, d.cfg.JobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	d.track(job.ID, cancel)
	defer func() {
		d.untrack(job.ID)
		cancel()
	}()

	logger.Info("job started", zap.String("job_id", job.ID), zap.String("domain", job.Domain))
	if err := d.runner.Run(jobCtx, job); err != nil {
		logger.Warn("job ended with error", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	logger.Info("job finished", zap.String("job_id", job.ID))
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job archive.CrawlJob) error {
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Cancel stops a running job. It reports false when the job is not currently
// executing.
func (d *Dispatcher) Cancel(jobID string) bool {
	d.mu.Lock()
	cancel, ok := d.running[jobID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// RunningCount reports how many jobs are currently executing.
func (d *Dispatcher) RunningCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}

func (d *Dispatcher) track(jobID string, cancel context.CancelFunc) {
	d.mu.Lock()
	d.running[jobID] = cancel
	d.mu.Unlock()
}

func (d *Dispatcher) untrack(jobID string) {
	d.mu.Lock()
	delete(d.running, jobID)
	d.mu.Unlock()
}
