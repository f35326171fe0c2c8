package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/archive"
	"github.com/snapradar/archive-crawler/internal/progress"
	"github.com/snapradar/archive-crawler/internal/router"
	"github.com/snapradar/archive-crawler/internal/search"
	"github.com/snapradar/archive-crawler/internal/storage/memory"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type stubIDs struct{}

func (stubIDs) NewID() (string, error) { return uuid.NewString(), nil }

var snapshotBase = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// fakeClient serves a fixed page sequence keyed by resume key.
type fakeClient struct {
	source archive.Source
	pages  map[string]archive.Page
	calls  atomic.Int32
}

func (c *fakeClient) Source() archive.Source { return c.source }

func (c *fakeClient) FetchPage(_ context.Context, req archive.PageRequest) (archive.Page, error) {
	c.calls.Add(1)
	page, ok := c.pages[req.ResumeKey]
	if !ok {
		return archive.Page{}, fmt.Errorf("no page for key %q", req.ResumeKey)
	}
	return page, nil
}

// articlePages builds n pages with perPage article records each, plus one
// static asset per page so the filter has something to drop.
func articlePages(src archive.Source, n, perPage int) map[string]archive.Page {
	pages := make(map[string]archive.Page, n)
	key := ""
	for p := 0; p < n; p++ {
		records := make([]archive.CDXRecord, 0, perPage+1)
		for r := 0; r < perPage; r++ {
			records = append(records, archive.CDXRecord{
				URL:           fmt.Sprintf("https://example.gov/news/p%d-r%d", p, r),
				Timestamp:     snapshotBase.Add(time.Duration(p*perPage+r) * time.Hour),
				Digest:        fmt.Sprintf("DIGEST-%d-%d", p, r),
				MimeType:      "text/html",
				StatusCode:    200,
				ContentLength: 8192,
				Source:        src,
			})
		}
		records = append(records, archive.CDXRecord{
			URL:           fmt.Sprintf("https://example.gov/assets/site-p%d.css", p),
			Timestamp:     snapshotBase,
			Digest:        fmt.Sprintf("CSS-%d", p),
			MimeType:      "text/css",
			StatusCode:    200,
			ContentLength: 2048,
			Source:        src,
		})
		next := fmt.Sprintf("key-%d", p+1)
		if p == n-1 {
			next = ""
		}
		pages[key] = archive.Page{Records: records, NextKey: next, PageIndex: p, Source: src}
		key = next
	}
	return pages
}

// stubExtractor returns canned content, failing the URLs listed in failURLs.
type stubExtractor struct {
	mu       sync.Mutex
	failURLs map[string]bool
	calls    atomic.Int32
}

func (e *stubExtractor) Extract(_ context.Context, url string, snapshot time.Time) (archive.ExtractedContent, error) {
	e.calls.Add(1)
	e.mu.Lock()
	fail := e.failURLs[url]
	e.mu.Unlock()
	if fail {
		return archive.ExtractedContent{}, fmt.Errorf("%w: %s", archive.ErrExtractionFailed, url)
	}
	return archive.ExtractedContent{
		SourceURL:    url,
		SnapshotTime: snapshot,
		Title:        "Budget Update",
		BodyText:     "The committee approved the revised appropriation.",
		WordCount:    7,
		Language:     "en",
		Method:       archive.MethodReadability,
		QualityScore: 0.91,
	}, nil
}

// captureEmitter records events and optionally reacts to them.
type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
	onEmit func(progress.Event)
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	c.events = append(c.events, evt)
	hook := c.onEmit
	c.mu.Unlock()
	if hook != nil {
		hook(evt)
	}
}

func (c *captureEmitter) stages() []progress.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Stage, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.Stage)
	}
	return out
}

func (c *captureEmitter) count(stage progress.Stage) int {
	n := 0
	for _, s := range c.stages() {
		if s == stage {
			n++
		}
	}
	return n
}

func (c *captureEmitter) last(stage progress.Stage) (progress.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Stage == stage {
			return c.events[i], true
		}
	}
	return progress.Event{}, false
}

type harness struct {
	orch      *Orchestrator
	contents  *memory.ContentStore
	resume    *memory.ResumeStore
	indexer   *search.MemoryIndexer
	extractor *stubExtractor
	emitter   *captureEmitter
	client    *fakeClient
}

func newHarness(t *testing.T, pages map[string]archive.Page, cfg Config) *harness {
	t.Helper()
	h := &harness{
		contents:  memory.NewContentStore(),
		resume:    memory.NewResumeStore(),
		indexer:   search.NewMemoryIndexer(),
		extractor: &stubExtractor{failURLs: map[string]bool{}},
		emitter:   &captureEmitter{},
		client:    &fakeClient{source: archive.SourceWayback, pages: pages},
	}
	rt := router.New(
		[]archive.SourceClient{h.client},
		h.resume,
		systemClock{},
		zap.NewNop(),
		router.Config{FallbackDelay: time.Millisecond},
	)
	if cfg.PersistRetryDelay == 0 {
		cfg.PersistRetryDelay = time.Millisecond
	}
	h.orch = New(rt, h.extractor, h.contents, h.indexer, h.emitter, stubIDs{}, systemClock{}, zap.NewNop(), cfg)
	return h
}

func testJob(batchSize int) archive.CrawlJob {
	return archive.CrawlJob{
		ID:       uuid.NewString(),
		DomainID: "example.gov",
		Domain:   "example.gov",
		From:     snapshotBase.AddDate(-1, 0, 0),
		To:       snapshotBase.AddDate(1, 0, 0),
		Config: archive.JobConfig{
			Mode:             archive.ModeWaybackOnly,
			ConcurrencyLimit: 4,
			BatchSize:        batchSize,
		},
	}
}

func TestRun_CompletesAndPersists(t *testing.T) {
	t.Parallel()

	h := newHarness(t, articlePages(archive.SourceWayback, 3, 2), Config{})
	job := testJob(4)

	require.NoError(t, h.orch.Run(context.Background(), job))

	stored, err := h.contents.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, archive.JobStatusCompleted, stored.Status)
	require.Equal(t, int64(9), stored.Counters.Discovered)
	require.Equal(t, int64(3), stored.Counters.Filtered)
	require.Equal(t, int64(6), stored.Counters.Extracted)
	require.Equal(t, int64(0), stored.Counters.Failed)

	require.Len(t, h.contents.Contents(), 6)
	require.Len(t, h.indexer.Documents(), 6)

	require.Equal(t, 1, h.emitter.count(progress.StageJobStart))
	require.Equal(t, 1, h.emitter.count(progress.StageJobDone))
	require.Equal(t, 6, h.emitter.count(progress.StageRecordOK))
	require.GreaterOrEqual(t, h.emitter.count(progress.StageBatchDone), 2)

	done, ok := h.emitter.last(progress.StageBatchDone)
	require.True(t, ok)
	require.Equal(t, string(archive.SourceWayback), done.Source)
	require.Equal(t, int64(9), done.Counters.Discovered)
	require.Equal(t, int64(6), done.Counters.Extracted)
}

func TestRun_SkipsAlreadyExtractedSnapshots(t *testing.T) {
	t.Parallel()

	h := newHarness(t, articlePages(archive.SourceWayback, 3, 2), Config{})
	require.NoError(t, h.contents.Persist(context.Background(), "earlier-job", archive.ExtractedContent{
		SourceURL:    "https://example.gov/news/p0-r0",
		SnapshotTime: snapshotBase,
	}))

	require.NoError(t, h.orch.Run(context.Background(), testJob(4)))

	require.Equal(t, int32(5), h.extractor.calls.Load())
	require.Len(t, h.contents.Contents(), 6)
}

func TestRun_ExtractionFailureDoesNotAbortJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, articlePages(archive.SourceWayback, 3, 2), Config{})
	h.extractor.failURLs["https://example.gov/news/p1-r1"] = true
	job := testJob(4)

	require.NoError(t, h.orch.Run(context.Background(), job))

	stored, err := h.contents.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, archive.JobStatusCompleted, stored.Status)
	require.Equal(t, int64(5), stored.Counters.Extracted)
	require.Equal(t, int64(1), stored.Counters.Failed)

	failed, ok := h.emitter.last(progress.StageRecordFailed)
	require.True(t, ok)
	require.Equal(t, "https://example.gov/news/p1-r1", failed.URL)
}

func TestRun_DegradesAfterConsecutivePersistFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, articlePages(archive.SourceWayback, 4, 2), Config{
		PersistRetries:   1,
		DegradeThreshold: 3,
		FailThreshold:    10,
	})
	h.contents.PersistErr = errors.New("storage outage")
	job := testJob(2)

	require.NoError(t, h.orch.Run(context.Background(), job))

	stored, err := h.contents.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, archive.JobStatusDegraded, stored.Status)
	require.Equal(t, int64(8), stored.Counters.Failed)
	require.Equal(t, 1, h.emitter.count(progress.StageJobDegraded))

	// Discovery cursors survive a degraded run so a retry resumes cleanly.
	states := h.resume.States()
	require.Len(t, states, 1)
	require.Equal(t, archive.ResumeCompleted, states[0].Status)
	require.Equal(t, int64(12), states[0].RecordsSeen)
}

func TestRun_FailsWhenPersistOutagePersists(t *testing.T) {
	t.Parallel()

	h := newHarness(t, articlePages(archive.SourceWayback, 4, 2), Config{
		PersistRetries:   1,
		DegradeThreshold: 1,
		FailThreshold:    2,
	})
	h.contents.PersistErr = errors.New("storage outage")
	job := testJob(2)

	err := h.orch.Run(context.Background(), job)
	require.Error(t, err)
	require.Contains(t, err.Error(), "consecutive batches")

	stored, gerr := h.contents.GetJob(context.Background(), job.ID)
	require.NoError(t, gerr)
	require.Equal(t, archive.JobStatusFailed, stored.Status)
	require.NotEmpty(t, stored.ErrorText)
	require.Equal(t, 1, h.emitter.count(progress.StageJobError))
}

func TestRun_CancelsAtBatchBoundary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, articlePages(archive.SourceWayback, 3, 2), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.emitter.onEmit = func(evt progress.Event) {
		if evt.Stage == progress.StageBatchDone {
			cancel()
		}
	}
	job := testJob(2)

	err := h.orch.Run(ctx, job)
	require.ErrorIs(t, err, context.Canceled)

	stored, gerr := h.contents.GetJob(context.Background(), job.ID)
	require.NoError(t, gerr)
	require.Equal(t, archive.JobStatusCancelled, stored.Status)

	// Only the batch that completed before cancellation was persisted.
	require.Len(t, h.contents.Contents(), 2)
}

func TestRun_DiscoveryErrorFailsJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, articlePages(archive.SourceWayback, 3, 2), Config{})
	h.resume.SaveErr = errors.New("resume store down")
	job := testJob(4)

	err := h.orch.Run(context.Background(), job)
	require.Error(t, err)
	require.Contains(t, err.Error(), "discovery stream")

	stored, gerr := h.contents.GetJob(context.Background(), job.ID)
	require.NoError(t, gerr)
	require.Equal(t, archive.JobStatusFailed, stored.Status)
	require.Empty(t, h.contents.Contents())
}

func TestRun_IndexFailureDoesNotFailJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, articlePages(archive.SourceWayback, 2, 2), Config{})
	h.indexer.IndexErr = errors.New("topic unavailable")
	job := testJob(4)

	require.NoError(t, h.orch.Run(context.Background(), job))

	stored, err := h.contents.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, archive.JobStatusCompleted, stored.Status)
	require.Len(t, h.contents.Contents(), 4)
}

func TestRun_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	h := newHarness(t, articlePages(archive.SourceWayback, 1, 1), Config{})
	job := testJob(1)
	job.Config.Mode = "carrier_pigeon"

	err := h.orch.Run(context.Background(), job)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid job config")
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, articlePages(archive.SourceWayback, 2, 2), Config{})
	require.NoError(t, h.orch.Run(context.Background(), testJob(4)))
	require.Equal(t, int32(4), h.extractor.calls.Load())

	// Same domain again: discovery is already complete and every snapshot is
	// stored, so nothing is re-extracted.
	require.NoError(t, h.orch.Run(context.Background(), testJob(4)))
	require.Equal(t, int32(4), h.extractor.calls.Load())
	require.Len(t, h.contents.Contents(), 4)
}
