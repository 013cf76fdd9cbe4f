package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-worker/internal/clock"
	"github.com/JakeFAU/crawl-worker/internal/crawler"
	"github.com/JakeFAU/crawl-worker/internal/dispatcher"
	"github.com/JakeFAU/crawl-worker/internal/handlers/demo"
	"github.com/JakeFAU/crawl-worker/internal/queue"
	"github.com/JakeFAU/crawl-worker/internal/storage/memory"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type stack struct {
	store    *memory.Store
	queue    *queue.Queue
	registry *dispatcher.Registry
	worker   *Worker
}

func newStack(t *testing.T) *stack {
	t.Helper()
	clk := clock.System{}
	store := memory.NewStore(clk, &seqIDs{})
	q := queue.New(store, nil, clk, zap.NewNop())
	registry := dispatcher.NewRegistry()
	registry.Register(demo.Tag, demo.New())
	disp := dispatcher.New(registry, store, nil, nil, clk, dispatcher.Config{}, zap.NewNop())
	w := New(q, disp, Config{PollInterval: 10 * time.Millisecond, ErrorBackoff: 10 * time.Millisecond}, zap.NewNop())
	return &stack{store: store, queue: q, registry: registry, worker: w}
}

func (s *stack) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.worker.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (s *stack) waitForStatus(t *testing.T, id string, want crawler.JobStatus) crawler.Job {
	t.Helper()
	var job crawler.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = s.store.GetJob(context.Background(), id)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestWorkerDemoJobCompletes(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	s.start(t)
	ctx := context.Background()

	id, err := s.queue.Enqueue(ctx, "demo", "https://example.com", nil)
	require.NoError(t, err)
	s.waitForStatus(t, id, crawler.JobStatusCompleted)

	results, err := s.store.ListResults(ctx, id)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "https://example.com", results[0].OriginalURL)
	require.Equal(t, "https://example.com", results[0].FinalURL)
	require.True(t, results[0].Success)
	require.Equal(t, "Hello", results[0].Data["markdown"])
}

func TestWorkerHandlerFailureRecordsError(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	s.registry.Register("youtube", crawler.HandlerFunc(func(context.Context, string) (crawler.Outcome, error) {
		return crawler.Outcome{Success: false, Error: "timeout"}, nil
	}))
	s.start(t)
	ctx := context.Background()

	id, err := s.queue.Enqueue(ctx, "youtube", "https://youtu.be/abc", crawler.Metadata{"source": "api"})
	require.NoError(t, err)
	job := s.waitForStatus(t, id, crawler.JobStatusFailed)
	require.Equal(t, crawler.Metadata{"error": "timeout"}, job.Metadata)

	results, err := s.store.ListResults(ctx, id)
	require.NoError(t, err)
	for _, r := range results {
		require.False(t, r.Success)
	}
}

func TestWorkerUnknownWorkerDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	s.start(t)
	ctx := context.Background()

	bad, err := s.queue.Enqueue(ctx, "nonexistent", "x", nil)
	require.NoError(t, err)
	good, err := s.queue.Enqueue(ctx, "demo", "https://example.com", nil)
	require.NoError(t, err)

	job := s.waitForStatus(t, bad, crawler.JobStatusFailed)
	require.Equal(t, `unknown worker "nonexistent"`, job.Metadata["error"])
	s.waitForStatus(t, good, crawler.JobStatusCompleted)
}

func TestWorkerHandlerPanicFailsJob(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	s.registry.Register("page", crawler.HandlerFunc(func(context.Context, string) (crawler.Outcome, error) {
		panic("nil map")
	}))
	s.start(t)

	id, err := s.queue.Enqueue(context.Background(), "page", "https://example.com", nil)
	require.NoError(t, err)
	job := s.waitForStatus(t, id, crawler.JobStatusFailed)
	require.Equal(t, "handler panic: nil map", job.Metadata["error"])
}

func TestWorkerProcessesFIFO(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	var mu sync.Mutex
	var order []string
	s.registry.Register("page", crawler.HandlerFunc(func(_ context.Context, key string) (crawler.Outcome, error) {
		mu.Lock()
		order = append(order, key)
		mu.Unlock()
		return crawler.Outcome{Success: true}, nil
	}))
	ctx := context.Background()
	var last string
	for _, key := range []string{"a", "b", "c"} {
		id, err := s.queue.Enqueue(ctx, "page", key, nil)
		require.NoError(t, err)
		last = id
	}
	s.start(t)
	s.waitForStatus(t, last, crawler.JobStatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a", "b", "c"}, order)
}

// flakyQueue fails Next a fixed number of times before delegating.
type flakyQueue struct {
	JobQueue
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyQueue) Next(ctx context.Context, worker string) (*crawler.Job, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, &crawler.StoreError{Op: "get pending job", Err: errors.New("connection refused")}
	}
	return f.JobQueue.Next(ctx, worker)
}

func TestWorkerBacksOffOnStoreErrors(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	flaky := &flakyQueue{JobQueue: s.queue}
	flaky.failures.Store(3)
	disp := dispatcher.New(s.registry, s.store, nil, nil, clock.System{}, dispatcher.Config{}, nil)
	s.worker = New(flaky, disp, Config{PollInterval: 5 * time.Millisecond, ErrorBackoff: 20 * time.Millisecond}, nil)

	id, err := s.queue.Enqueue(context.Background(), "demo", "https://example.com", nil)
	require.NoError(t, err)
	start := time.Now()
	s.start(t)

	s.waitForStatus(t, id, crawler.JobStatusCompleted)
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond, "three backoffs precede recovery")
	require.GreaterOrEqual(t, flaky.calls.Load(), int32(4))
}

// racingQueue simulates another poller winning every claim.
type racingQueue struct {
	JobQueue
	claims atomic.Int32
}

func (r *racingQueue) Claim(context.Context, crawler.Job) error {
	r.claims.Add(1)
	return fmt.Errorf("job: %w", crawler.ErrJobNotClaimable)
}

type countingRunner struct {
	calls atomic.Int32
}

func (c *countingRunner) Run(context.Context, crawler.Job) (dispatcher.Outcome, error) {
	c.calls.Add(1)
	return dispatcher.Outcome{}, nil
}

func TestWorkerSkipsJobsClaimedElsewhere(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	racing := &racingQueue{JobQueue: s.queue}
	runner := &countingRunner{}
	s.worker = New(racing, runner, Config{PollInterval: 5 * time.Millisecond, ErrorBackoff: 5 * time.Millisecond}, nil)

	_, err := s.queue.Enqueue(context.Background(), "demo", "k", nil)
	require.NoError(t, err)
	s.start(t)

	require.Eventually(t, func() bool { return racing.claims.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.Zero(t, runner.calls.Load())
}

func TestWorkerStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.worker.Run(ctx)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorkerDefaults(t *testing.T) {
	t.Parallel()

	w := New(nil, nil, Config{}, nil)
	require.Equal(t, 2*time.Second, w.cfg.PollInterval)
	require.Equal(t, 5*time.Second, w.cfg.ErrorBackoff)
}
