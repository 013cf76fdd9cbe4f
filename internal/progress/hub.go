package progress

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config tunes the Hub. Zero values pick the defaults noted per field.
type Config struct {
	// BufferSize is the queue depth before Emit starts dropping (1024).
	BufferSize int
	// MaxBatchEvents triggers an immediate flush (100).
	MaxBatchEvents int
	// MaxBatchWait bounds how long the first event of a batch waits (250ms).
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume and Close call (5s).
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = 100
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = 250 * time.Millisecond
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub queues events from any goroutine and delivers them in batches to every
// sink from a single background goroutine. Emit never blocks.
type Hub struct {
	cfg    Config
	sinks  []Sink
	queue  chan Event
	logger *zap.Logger

	dropped  atomic.Int64
	dropWarn rate.Sometimes

	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}
}

// NewHub starts delivery and returns the Hub.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		queue:    make(chan Event, cfg.BufferSize),
		logger:   cfg.Logger.Named("progress"),
		dropWarn: rate.Sometimes{Interval: 5 * time.Second},
		stopped:  make(chan struct{}),
	}
	go h.deliver()
	return h
}

// Emit queues evt. Invalid events and events past a full queue are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("event discarded", zap.String("job_id", evt.JobID), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.queue <- evt:
	default:
		total := h.dropped.Add(1)
		h.dropWarn.Do(func() {
			h.logger.Warn("event queue full, dropping", zap.Int64("dropped_total", total))
		})
	}
}

// Dropped reports how many events were lost to a full queue.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close stops intake, delivers what is queued, closes the sinks and waits for
// all of it up to ctx. Calling it again only waits.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.queue)
	}
	h.mu.Unlock()
	select {
	case <-h.stopped:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("progress hub still draining"), ctx.Err())
	}
}

func (h *Hub) deliver() {
	defer close(h.stopped)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case evt, ok := <-h.queue:
			if !ok {
				h.send(batch)
				h.closeSinks()
				return
			}
			if len(batch) == 0 {
				timer.Reset(h.cfg.MaxBatchWait)
			}
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				timer.Stop()
				h.send(batch)
				batch = batch[:0]
			}
		case <-timer.C:
			h.send(batch)
			batch = batch[:0]
		}
	}
}

// send hands the batch to every sink in parallel. Sinks get their own copy.
func (h *Hub) send(batch []Event) {
	if len(batch) == 0 {
		return
	}
	h.eachSink(func(ctx context.Context, s Sink) error {
		return s.Consume(ctx, append([]Event(nil), batch...))
	}, "sink consume failed")
}

func (h *Hub) closeSinks() {
	h.eachSink(func(ctx context.Context, s Sink) error {
		return s.Close(ctx)
	}, "sink close failed")
}

func (h *Hub) eachSink(call func(context.Context, Sink) error, failure string) {
	var g errgroup.Group
	for i, sink := range h.sinks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
			defer cancel()
			if err := call(ctx, sink); err != nil {
				h.logger.Warn(failure, zap.Int("sink", i), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
