// Package archive defines the core types and interfaces shared across the
// snapshot discovery and extraction pipeline.
package archive

import (
	"time"
)

// Source identifies which archive index a record came from.
type Source string

// Supported archive index providers.
const (
	SourceWayback     Source = "wayback"
	SourceCommonCrawl Source = "commoncrawl"
)

// CDXRecord is a single historical-snapshot index entry as normalized from an
// archive's index API. Instances are treated as immutable once emitted by a
// SourceClient.
type CDXRecord struct {
	URL           string    `json:"url"`
	Timestamp     time.Time `json:"timestamp"`
	Digest        string    `json:"digest"`
	MimeType      string    `json:"mime_type"`
	StatusCode    int       `json:"status_code"`
	ContentLength int64     `json:"content_length"`
	Source        Source    `json:"source"`
}

// ResumeStatus is the lifecycle state of one (domain, source) pagination run.
type ResumeStatus string

// Resume state values persisted in the resume store.
const (
	ResumePending    ResumeStatus = "pending"
	ResumeInProgress ResumeStatus = "in_progress"
	ResumeCompleted  ResumeStatus = "completed"
	ResumeFailed     ResumeStatus = "failed"
)

// ResumeState is the durable pagination cursor for one (domain, source) pair.
// It is written before each fetched page is yielded downstream, so a crash
// re-processes at most the last unflushed page.
type ResumeState struct {
	DomainID      string       `json:"domain_id"`
	Source        Source       `json:"source"`
	LastPageIndex int          `json:"last_page_index"`
	ResumeKey     string       `json:"resume_key"`
	RecordsSeen   int64        `json:"records_seen"`
	Status        ResumeStatus `json:"status"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// FilterOutcome says whether a record survived filtering.
type FilterOutcome string

// Filter outcomes.
const (
	OutcomeKeep FilterOutcome = "keep"
	OutcomeDrop FilterOutcome = "drop"
)

// DropReason explains why a record was dropped.
type DropReason string

// Drop reasons emitted by the filter, in pipeline order.
const (
	DropStaticAsset    DropReason = "static_asset"
	DropListPage       DropReason = "list_page"
	DropSizeOutOfRange DropReason = "size_out_of_range"
	DropAttachment     DropReason = "attachment"
	DropDuplicate      DropReason = "duplicate_digest"
	DropMalformed      DropReason = "malformed"
)

// FilterDecision wraps a record with the filter verdict. Priority is only
// meaningful for kept records and lies in [1,10].
type FilterDecision struct {
	Record   CDXRecord     `json:"record"`
	Outcome  FilterOutcome `json:"outcome"`
	Reason   DropReason    `json:"reason,omitempty"`
	Priority int           `json:"priority,omitempty"`
}

// Kept reports whether the decision keeps the record.
func (d FilterDecision) Kept() bool {
	return d.Outcome == OutcomeKeep
}

// ExtractionMethod names the strategy that produced an extraction result.
type ExtractionMethod string

// Extraction strategies in chain order.
const (
	MethodReadability ExtractionMethod = "readability"
	MethodDOM         ExtractionMethod = "dom"
	MethodNews        ExtractionMethod = "news"
	MethodRaw         ExtractionMethod = "raw"
)

// ExtractedContent is the cleaned text produced for one snapshot.
type ExtractedContent struct {
	SourceURL    string           `json:"source_url"`
	SnapshotTime time.Time        `json:"snapshot_time"`
	Title        string           `json:"title"`
	BodyText     string           `json:"body_text"`
	Markdown     string           `json:"markdown,omitempty"`
	WordCount    int              `json:"word_count"`
	Language     string           `json:"language"`
	Method       ExtractionMethod `json:"method"`
	QualityScore float64          `json:"quality_score"`
}

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the content store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusDegraded  JobStatus = "degraded"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobCounters tracks aggregate per-job progress.
type JobCounters struct {
	Discovered int64 `json:"discovered"`
	Filtered   int64 `json:"filtered"`
	Extracted  int64 `json:"extracted"`
	Failed     int64 `json:"failed"`
}

// CrawlJob is the metadata for one discovery-and-extraction run over a domain
// and date range.
type CrawlJob struct {
	ID        string      `json:"id"`
	DomainID  string      `json:"domain_id"`
	Domain    string      `json:"domain"`
	From      time.Time   `json:"from"`
	To        time.Time   `json:"to"`
	Config    JobConfig   `json:"config"`
	Status    JobStatus   `json:"status"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Counters  JobCounters `json:"counters"`
}

// Page is one fetched index page, already normalized.
type Page struct {
	Records   []CDXRecord
	NextKey   string
	PageIndex int
	Source    Source
}

// HasMore reports whether the provider signalled further pages.
func (p Page) HasMore() bool {
	return p.NextKey != ""
}

// SourceHealth summarizes one source's availability for the ops API.
type SourceHealth struct {
	Source        Source     `json:"source"`
	Healthy       bool       `json:"healthy"`
	CircuitState  string     `json:"circuit_state"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}

// SourcePerformance summarizes rolling query statistics for one source.
type SourcePerformance struct {
	Source            Source  `json:"source"`
	TotalQueries      int64   `json:"total_queries"`
	SuccessRate       float64 `json:"success_rate"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}
