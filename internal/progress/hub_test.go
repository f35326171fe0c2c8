package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func (s *captureSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func validEvent() Event {
	return Event{
		JobID: [16]byte{1},
		TS:    time.Now().UTC(),
		Stage: StageJobStart,
	}
}

func TestHub_FlushesOnBatchSize(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchEvents: 3, MaxBatchWait: time.Hour}, sink)
	defer func() { _ = hub.Close(context.Background()) }()

	for i := 0; i < 3; i++ {
		hub.Emit(validEvent())
	}
	require.Eventually(t, func() bool {
		return sink.eventCount() == 3 && sink.batchCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHub_FlushesOnTimer(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchEvents: 1000, MaxBatchWait: 20 * time.Millisecond}, sink)
	defer func() { _ = hub.Close(context.Background()) }()

	hub.Emit(validEvent())
	require.Eventually(t, func() bool {
		return sink.eventCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHub_CloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchEvents: 1000, MaxBatchWait: time.Hour}, sink)

	for i := 0; i < 5; i++ {
		hub.Emit(validEvent())
	}
	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, 5, sink.eventCount())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.True(t, sink.closed)
}

func TestHub_DiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{Stage: StageJobStart}) // missing job id and timestamp
	hub.Emit(Event{JobID: [16]byte{1}, TS: time.Now(), Stage: "BOGUS"})
	require.NoError(t, hub.Close(context.Background()))
	require.Zero(t, sink.eventCount())
}

func TestHub_EmitNeverBlocksWhenFull(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	slow := &blockingSink{release: block}
	hub := NewHub(Config{BufferSize: 2, MaxBatchEvents: 1, MaxBatchWait: time.Millisecond}, slow)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Emit(validEvent())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
	close(block)
	require.NoError(t, hub.Close(context.Background()))
}

func TestHub_EmitAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))
	hub.Emit(validEvent()) // must not panic or deadlock
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Consume(ctx context.Context, _ []Event) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func (s *blockingSink) Close(context.Context) error { return nil }
