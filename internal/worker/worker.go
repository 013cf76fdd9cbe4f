// Package worker implements the poll loop: claim the oldest pending job, run it
// through the dispatcher, and record the terminal status.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
	"github.com/JakeFAU/crawl-worker/internal/dispatcher"
	"github.com/JakeFAU/crawl-worker/internal/queue"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultErrorBackoff = 5 * time.Second
)

// Config controls Worker behavior.
type Config struct {
	// PollInterval is the idle sleep when no job is pending.
	PollInterval time.Duration
	// ErrorBackoff is the sleep after the queue read fails.
	ErrorBackoff time.Duration
	// Filter restricts the loop to one worker tag; empty takes any.
	Filter string
}

// Runner executes one claimed job.
type Runner interface {
	Run(ctx context.Context, job crawler.Job) (dispatcher.Outcome, error)
}

// JobQueue is the subset of queue.Queue the loop drives.
type JobQueue interface {
	Next(ctx context.Context, worker string) (*crawler.Job, error)
	Claim(ctx context.Context, job crawler.Job) error
	Complete(ctx context.Context, job crawler.Job, rep queue.Report) error
	Fail(ctx context.Context, job crawler.Job, msg string, rep queue.Report) error
	Wake() <-chan struct{}
}

// Worker runs the poll loop. One job is in flight at a time.
type Worker struct {
	queue  JobQueue
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(q JobQueue, runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  q,
		runner: runner,
		cfg:    cfg,
		logger: logger.Named("worker"),
	}
}

// Run blocks until ctx is cancelled. It never returns because of a single job.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("poll loop started",
		zap.String("filter", w.cfg.Filter),
		zap.Duration("poll_interval", w.cfg.PollInterval),
	)
	for ctx.Err() == nil {
		wait, err := w.step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("poll loop error", zap.Error(err), zap.Duration("backoff", wait))
		}
		if wait > 0 && !w.sleep(ctx, wait, err == nil) {
			break
		}
	}
	w.logger.Info("poll loop stopped")
}

// step handles at most one job and reports how long to wait before the next.
func (w *Worker) step(ctx context.Context) (wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			wait, err = w.cfg.ErrorBackoff, fmt.Errorf("poll loop panic: %v", r)
		}
	}()

	job, err := w.queue.Next(ctx, w.cfg.Filter)
	if err != nil {
		return w.cfg.ErrorBackoff, fmt.Errorf("next job: %w", err)
	}
	if job == nil {
		return w.cfg.PollInterval, nil
	}
	if err := w.processJob(ctx, *job); err != nil {
		return w.cfg.ErrorBackoff, err
	}
	return 0, nil
}

// processJob returns an error only when the job's status could not be recorded.
func (w *Worker) processJob(ctx context.Context, job crawler.Job) error {
	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("worker", job.Worker),
		zap.String("request_key", job.RequestKey),
	)
	if err := w.queue.Claim(ctx, job); err != nil {
		if errors.Is(err, crawler.ErrJobNotClaimable) {
			logger.Debug("job claimed elsewhere")
			return nil
		}
		return err
	}
	logger.Info("job claimed")

	out, err := w.dispatch(ctx, job)
	rep := queue.Report{ResultID: out.ResultID, Duration: out.Duration}
	// Terminal writes must land even when shutdown cancelled ctx mid-job.
	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		msg := err.Error()
		logger.Warn("job failed", zap.String("error", msg))
		if ferr := w.queue.Fail(writeCtx, job, msg, rep); ferr != nil {
			return fmt.Errorf("record failure: %w", ferr)
		}
		return nil
	}
	if cerr := w.queue.Complete(writeCtx, job, rep); cerr != nil {
		return fmt.Errorf("record completion: %w", cerr)
	}
	logger.Info("job completed",
		zap.String("result_id", out.ResultID),
		zap.Bool("cache_hit", out.CacheHit),
		zap.Duration("duration", out.Duration),
	)
	return nil
}

func (w *Worker) dispatch(ctx context.Context, job crawler.Job) (out dispatcher.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()
	return w.runner.Run(ctx, job)
}

// sleep waits d or until ctx ends. Idle waits also end early on an enqueue.
func (w *Worker) sleep(ctx context.Context, d time.Duration, wakeable bool) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	var wake <-chan struct{}
	if wakeable {
		wake = w.queue.Wake()
	}
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-wake:
		return true
	}
}
