package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/archive"
	"github.com/snapradar/archive-crawler/internal/queue/memory"
)

// stubRunner records jobs and optionally blocks until its context ends.
type stubRunner struct {
	mu    sync.Mutex
	seen  []string
	block bool
	runs  atomic.Int32
}

func (r *stubRunner) Run(ctx context.Context, job archive.CrawlJob) error {
	r.runs.Add(1)
	r.mu.Lock()
	r.seen = append(r.seen, job.ID)
	r.mu.Unlock()
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (r *stubRunner) jobIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestDispatcher_RunsQueuedJobs(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(8)
	runner := &stubRunner{}
	d := New(q, runner, zap.NewNop(), Config{Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, d.Enqueue(context.Background(), archive.CrawlJob{ID: id}))
	}

	require.Eventually(t, func() bool {
		return runner.runs.Load() == 3
	}, time.Second, 5*time.Millisecond)
	require.ElementsMatch(t, []string{"a", "b", "c"}, runner.jobIDs())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_CancelStopsRunningJob(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	runner := &stubRunner{block: true}
	d := New(q, runner, zap.NewNop(), Config{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Enqueue(context.Background(), archive.CrawlJob{ID: "stuck"}))
	require.Eventually(t, func() bool {
		return d.RunningCount() == 1
	}, time.Second, 5*time.Millisecond)

	require.True(t, d.Cancel("stuck"))
	require.Eventually(t, func() bool {
		return d.RunningCount() == 0
	}, time.Second, 5*time.Millisecond)

	require.False(t, d.Cancel("stuck"))
}

func TestDispatcher_JobTimeoutBoundsRun(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	runner := &stubRunner{block: true}
	d := New(q, runner, zap.NewNop(), Config{Workers: 1, JobTimeout: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Enqueue(context.Background(), archive.CrawlJob{ID: "slow"}))
	require.Eventually(t, func() bool {
		return d.RunningCount() == 0 && runner.runs.Load() == 1
	}, time.Second, 5*time.Millisecond)
}
