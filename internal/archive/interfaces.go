package archive

import (
	"context"
	"time"
)

// PageRequest is the input to one index-page fetch.
type PageRequest struct {
	Domain    string
	From      time.Time
	To        time.Time
	ResumeKey string
	PageIndex int
	PageSize  int
}

// SourceClient fetches one page of normalized snapshot records from one
// archive index. Implementations apply local retry for transient network
// errors before surfacing an error to the caller.
type SourceClient interface {
	Source() Source
	FetchPage(ctx context.Context, req PageRequest) (Page, error)
}

// ResumeStore persists pagination cursors durably across restarts. Save is
// called before a page's records are yielded downstream.
type ResumeStore interface {
	Load(ctx context.Context, domainID string, source Source) (*ResumeState, error)
	Save(ctx context.Context, state ResumeState) error
}

// ContentStore persists extracted content and job metadata.
type ContentStore interface {
	Persist(ctx context.Context, jobID string, content ExtractedContent) error
	Exists(ctx context.Context, url string, snapshot time.Time) (bool, error)
	CreateJob(ctx context.Context, job CrawlJob) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	GetJob(ctx context.Context, jobID string) (CrawlJob, error)
}

// BlobStore writes raw snapshot bodies and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// SearchIndexer ships extracted content to the search index. Calls are
// fire-and-forget: failures are logged, never fatal.
type SearchIndexer interface {
	IndexBatch(ctx context.Context, batch []ExtractedContent) error
}

// Extractor turns one kept record into extracted content.
type Extractor interface {
	Extract(ctx context.Context, url string, snapshot time.Time) (ExtractedContent, error)
}

// SnapshotFetcher retrieves the archived body for a snapshot.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, url string, snapshot time.Time) ([]byte, error)
}

// ExtractionCache memoizes successful extractions by (url, snapshot) with a
// TTL. The production cache is an external collaborator; the in-process
// implementation exists for single-node deployments and tests.
type ExtractionCache interface {
	Get(url string, snapshot time.Time) (ExtractedContent, bool)
	Put(url string, snapshot time.Time, content ExtractedContent)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
