package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/progress"
)

// EventRepository persists progress event batches.
type EventRepository interface {
	Append(ctx context.Context, batch []progress.Event) error
}

// StoreSink writes batches to a durable event repository so job history is
// queryable after the process restarts.
type StoreSink struct {
	repo   EventRepository
	logger *zap.Logger
}

// NewStoreSink wires a repository to the sink interface.
func NewStoreSink(repo EventRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume persists the batch.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if len(batch) == 0 {
		return nil
	}
	if err := s.repo.Append(ctx, batch); err != nil {
		return fmt.Errorf("append progress batch: %w", err)
	}
	return nil
}

// Close implements progress.Sink. The repository owns its own lifecycle.
func (s *StoreSink) Close(_ context.Context) error {
	return nil
}
