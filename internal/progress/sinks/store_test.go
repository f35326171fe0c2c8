package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/snapradar/archive-crawler/internal/progress"
)

type memoryRepo struct {
	mu      sync.Mutex
	batches [][]progress.Event
	err     error
}

func (r *memoryRepo) Append(_ context.Context, batch []progress.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, append([]progress.Event(nil), batch...))
	return nil
}

func TestStoreSink_PersistsBatches(t *testing.T) {
	t.Parallel()

	repo := &memoryRepo{}
	sink := NewStoreSink(repo, nil)

	batch := []progress.Event{{
		JobID: progress.UUIDToBytes(uuid.New()),
		TS:    time.Now(),
		Stage: progress.StageJobStart,
	}}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.NoError(t, sink.Consume(context.Background(), nil))
	require.NoError(t, sink.Close(context.Background()))

	require.Len(t, repo.batches, 1)
	require.Len(t, repo.batches[0], 1)
}

func TestStoreSink_SurfacesRepoError(t *testing.T) {
	t.Parallel()

	repo := &memoryRepo{err: errors.New("db down")}
	sink := NewStoreSink(repo, nil)

	err := sink.Consume(context.Background(), []progress.Event{{
		JobID: progress.UUIDToBytes(uuid.New()),
		TS:    time.Now(),
		Stage: progress.StageJobStart,
	}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "append progress batch")
}
