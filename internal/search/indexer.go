// Package search ships extracted content to the search index. Indexing is
// fire-and-forget from the pipeline's point of view: failures are logged by
// the caller and never fail a job.
package search

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/archive"
)

// Publisher sends a JSON-serializable payload to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// TopicIndexer publishes extraction batches to a message topic consumed by
// the indexing service.
type TopicIndexer struct {
	publisher Publisher
	topic     string
}

// NewTopicIndexer wires a publisher and topic name to the indexer interface.
func NewTopicIndexer(publisher Publisher, topic string) *TopicIndexer {
	return &TopicIndexer{publisher: publisher, topic: topic}
}

// IndexBatch publishes the batch as one message.
func (x *TopicIndexer) IndexBatch(ctx context.Context, batch []archive.ExtractedContent) error {
	if len(batch) == 0 {
		return nil
	}
	if _, err := x.publisher.Publish(ctx, x.topic, batch); err != nil {
		return fmt.Errorf("publish index batch: %w", err)
	}
	return nil
}

// LogIndexer logs what would have been indexed. Used when no index is
// configured.
type LogIndexer struct {
	logger *zap.Logger
}

// NewLogIndexer wires a Zap logger to the indexer interface.
func NewLogIndexer(logger *zap.Logger) *LogIndexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogIndexer{logger: logger}
}

// IndexBatch logs one line per document.
func (x *LogIndexer) IndexBatch(_ context.Context, batch []archive.ExtractedContent) error {
	for _, doc := range batch {
		x.logger.Info("index document",
			zap.String("url", doc.SourceURL),
			zap.Time("snapshot", doc.SnapshotTime),
			zap.String("method", string(doc.Method)),
			zap.Int("words", doc.WordCount),
		)
	}
	return nil
}

// MemoryIndexer collects batches for test assertions.
type MemoryIndexer struct {
	mu      sync.Mutex
	batches [][]archive.ExtractedContent

	// IndexErr, when set, is returned by IndexBatch.
	IndexErr error
}

// NewMemoryIndexer constructs a MemoryIndexer.
func NewMemoryIndexer() *MemoryIndexer {
	return &MemoryIndexer{}
}

// IndexBatch records the batch.
func (x *MemoryIndexer) IndexBatch(_ context.Context, batch []archive.ExtractedContent) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.IndexErr != nil {
		return x.IndexErr
	}
	x.batches = append(x.batches, append([]archive.ExtractedContent(nil), batch...))
	return nil
}

// Documents flattens everything indexed so far.
func (x *MemoryIndexer) Documents() []archive.ExtractedContent {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []archive.ExtractedContent
	for _, b := range x.batches {
		out = append(out, b...)
	}
	return out
}
