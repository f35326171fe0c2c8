// Package queue defines the job queue that decouples job submission from job
// execution.
package queue

import (
	"context"

	"github.com/snapradar/archive-crawler/internal/archive"
)

// JobQueue hands submitted crawl jobs to the dispatcher. Implementations must
// be safe for concurrent producers and consumers.
type JobQueue interface {
	// Enqueue pushes a job or returns once the context ends.
	Enqueue(ctx context.Context, job archive.CrawlJob) error
	// Dequeue pops the next job, respecting context cancellation.
	Dequeue(ctx context.Context) (archive.CrawlJob, error)
	// Close stops the queue; pending Dequeue calls drain remaining jobs.
	Close()
}
