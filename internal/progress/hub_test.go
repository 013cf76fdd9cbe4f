package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
	err     error
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return s.err
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.err
}

func (s *captureSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, len(b))
	}
	return out
}

func (s *captureSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error { return f(ctx, batch) }

func (sinkFunc) Close(context.Context) error { return nil }

func event(job string, stage Stage) Event {
	evt := Event{JobID: job, Worker: "demo", Stage: stage, TS: time.Now()}
	if stage == StageFailed {
		evt.Note = "boom"
	}
	return evt
}

func TestHubFlushesFullBatch(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchEvents: 3, MaxBatchWait: time.Hour}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	for _, stage := range []Stage{StageEnqueued, StageClaimed, StageCompleted} {
		hub.Emit(event("a", stage))
	}
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]int{3}, sink.sizes())
	}, time.Second, 5*time.Millisecond)
}

func TestHubFlushesPartialBatchAfterWait(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchEvents: 50, MaxBatchWait: 20 * time.Millisecond}, sink)
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	hub.Emit(event("a", StageEnqueued))
	assert.Eventually(t, func() bool { return len(sink.sizes()) == 1 }, time.Second, 5*time.Millisecond)

	hub.Emit(event("b", StageEnqueued))
	hub.Emit(event("c", StageEnqueued))
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]int{1, 2}, sink.sizes())
	}, time.Second, 5*time.Millisecond)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: time.Hour}, sink)

	hub.Emit(Event{Stage: StageClaimed, TS: time.Now()})
	hub.Emit(Event{JobID: "a", Stage: StageFailed, TS: time.Now()})
	hub.Emit(Event{JobID: "a", Stage: "JOB_EXPLODED", TS: time.Now()})
	hub.Emit(Event{JobID: "a", Stage: StageClaimed})

	require.NoError(t, hub.Close(context.Background()))
	assert.Empty(t, sink.sizes())
	assert.True(t, sink.isClosed())
}

func TestHubCloseDrainsAndStopsIntake(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Hour}, sink)
	hub.Emit(event("a", StageClaimed))
	hub.Emit(event("a", StageCompleted))

	require.NoError(t, hub.Close(context.Background()))
	assert.Equal(t, []int{2}, sink.sizes())

	hub.Emit(event("b", StageClaimed))
	require.NoError(t, hub.Close(context.Background()))
	assert.Equal(t, []int{2}, sink.sizes())
}

func TestHubEmitDropsWhenFull(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	stuck := sinkFunc(func(ctx context.Context, _ []Event) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	hub := NewHub(Config{BufferSize: 1, MaxBatchEvents: 1, SinkTimeout: time.Second}, stuck)

	start := time.Now()
	for range 40 {
		hub.Emit(event("a", StageClaimed))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Positive(t, hub.Dropped())

	close(release)
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubSinkFailureDoesNotStarveOthers(t *testing.T) {
	t.Parallel()

	broken := &captureSink{err: errors.New("unavailable")}
	healthy := &captureSink{}
	hub := NewHub(Config{MaxBatchEvents: 1}, broken, healthy)

	hub.Emit(event("a", StageCompleted))
	hub.Emit(event("b", StageCompleted))
	require.NoError(t, hub.Close(context.Background()))

	assert.Equal(t, []int{1, 1}, healthy.sizes())
	assert.Equal(t, []int{1, 1}, broken.sizes())
	assert.True(t, healthy.isClosed())
}

func TestHubCloseHonorsDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	slow := sinkFunc(func(context.Context, []Event) error {
		<-release
		return nil
	})
	hub := NewHub(Config{MaxBatchEvents: 1}, slow)
	hub.Emit(event("a", StageClaimed))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := hub.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, hub.Close(context.Background()))
}

func TestNilHubIsInert(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(event("a", StageClaimed))
	require.NoError(t, hub.Close(context.Background()))
}
