package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/snapradar/archive-crawler/internal/archive"
)

type contentKey struct {
	url      string
	snapshot time.Time
}

// ContentStore provides an in-memory ContentStore for development/testing.
type ContentStore struct {
	mu       sync.RWMutex
	jobs     map[string]archive.CrawlJob
	contents map[contentKey]archive.ExtractedContent

	// PersistErr, when set, is returned by Persist. Lets tests simulate a
	// storage outage.
	PersistErr error
}

// NewContentStore constructs a ContentStore.
func NewContentStore() *ContentStore {
	return &ContentStore{
		jobs:     make(map[string]archive.CrawlJob),
		contents: make(map[contentKey]archive.ExtractedContent),
	}
}

// Persist stores the extracted content.
func (s *ContentStore) Persist(_ context.Context, _ string, content archive.ExtractedContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PersistErr != nil {
		return s.PersistErr
	}
	s.contents[contentKey{url: content.SourceURL, snapshot: content.SnapshotTime}] = content
	return nil
}

// Exists reports whether content for (url, snapshot) is already stored.
func (s *ContentStore) Exists(_ context.Context, url string, snapshot time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.contents[contentKey{url: url, snapshot: snapshot}]
	return ok, nil
}

// CreateJob stores a new job.
func (s *ContentStore) CreateJob(_ context.Context, job archive.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates status, error text, and counters for a job.
func (s *ContentStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status archive.JobStatus,
	errText string,
	counters archive.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return archive.ErrNotFound
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := time.Now().UTC()
	if status == archive.JobStatusRunning && job.Started == nil {
		job.Started = &now
	}
	if isTerminal(status) {
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *ContentStore) GetJob(_ context.Context, jobID string) (archive.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return archive.CrawlJob{}, archive.ErrNotFound
	}
	return job, nil
}

// Contents returns a copy of everything persisted, for test assertions.
func (s *ContentStore) Contents() []archive.ExtractedContent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]archive.ExtractedContent, 0, len(s.contents))
	for _, c := range s.contents {
		out = append(out, c)
	}
	return out
}

func isTerminal(status archive.JobStatus) bool {
	switch status {
	case archive.JobStatusCompleted, archive.JobStatusFailed, archive.JobStatusCancelled:
		return true
	default:
		return false
	}
}
