package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snapradar/archive-crawler/internal/archive"
)

func TestQueue_RoundTrip(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	job := archive.CrawlJob{ID: "job-1", Domain: "example.gov"}

	require.NoError(t, q.Enqueue(context.Background(), job))
	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", got.ID)
}

func TestQueue_DequeueHonorsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_EnqueueBlocksWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), archive.CrawlJob{ID: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, archive.CrawlJob{ID: "b"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_CloseDrainsThenErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), archive.CrawlJob{ID: "a"}))
	q.Close()
	q.Close() // idempotent

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", got.ID)

	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)

	require.ErrorIs(t, q.Enqueue(context.Background(), archive.CrawlJob{ID: "c"}), ErrClosed)
}

func TestQueue_ConcurrentEnqueueAndClose(t *testing.T) {
	t.Parallel()

	// Close racing a blocked or in-flight Enqueue must never panic; the
	// producer either lands the job or sees ErrClosed.
	for i := 0; i < 200; i++ {
		q := NewQueue(1)
		done := make(chan error, 1)
		go func() {
			done <- q.Enqueue(context.Background(), archive.CrawlJob{ID: "a"})
		}()
		go q.Close()

		err := <-done
		if err != nil {
			require.ErrorIs(t, err, ErrClosed)
		}
	}
}
