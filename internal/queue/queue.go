// Package queue layers the job lifecycle on top of a crawler.JobStore: enqueue,
// claim the oldest pending job, and record the terminal status. The store is the
// queue; this package adds wake-ups for idle pollers and lifecycle events.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
	"github.com/JakeFAU/crawl-worker/internal/progress"
)

// Report carries run details attached to terminal events.
type Report struct {
	ResultID string
	Duration time.Duration
}

// Queue coordinates job state transitions.
type Queue struct {
	store  crawler.JobStore
	wake   chan struct{}
	events progress.Emitter
	clock  crawler.Clock
	logger *zap.Logger
}

// New builds a Queue. A nil emitter discards events.
func New(store crawler.JobStore, events progress.Emitter, clock crawler.Clock, logger *zap.Logger) *Queue {
	if events == nil {
		events = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		store:  store,
		wake:   make(chan struct{}, 1),
		events: events,
		clock:  clock,
		logger: logger.Named("queue"),
	}
}

// Enqueue creates a pending job and nudges an idle poller.
func (q *Queue) Enqueue(
	ctx context.Context,
	worker string,
	requestKey string,
	metadata crawler.Metadata,
) (string, error) {
	id, err := q.store.CreateJob(ctx, worker, requestKey, metadata)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.events.Emit(progress.Event{JobID: id, Worker: worker, Stage: progress.StageEnqueued, TS: q.clock.Now()})
	q.logger.Debug("job enqueued", zap.String("job_id", id), zap.String("worker", worker))
	return id, nil
}

// Wake fires after Enqueue; pollers may select on it instead of sleeping the full interval.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Next returns the oldest pending job for worker ("" for any), or nil when idle.
func (q *Queue) Next(ctx context.Context, worker string) (*crawler.Job, error) {
	job, err := q.store.GetPendingJob(ctx, worker)
	if err != nil {
		if crawler.IsStoreError(err) {
			return nil, err
		}
		return nil, &crawler.StoreError{Op: "get pending job", Err: err}
	}
	return job, nil
}

// Claim moves a pending job to processing. ErrJobNotClaimable means another
// poller got there first.
func (q *Queue) Claim(ctx context.Context, job crawler.Job) error {
	err := q.store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusProcessing, nil)
	if errors.Is(err, crawler.ErrInvalidTransition) {
		return fmt.Errorf("job %s: %w", job.ID, crawler.ErrJobNotClaimable)
	}
	if err != nil {
		return fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	q.events.Emit(progress.Event{JobID: job.ID, Worker: job.Worker, Stage: progress.StageClaimed, TS: q.clock.Now()})
	return nil
}

// Complete marks a processing job completed, keeping its metadata.
func (q *Queue) Complete(ctx context.Context, job crawler.Job, rep Report) error {
	if err := q.store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusCompleted, nil); err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	q.events.Emit(progress.Event{
		JobID:    job.ID,
		Worker:   job.Worker,
		Stage:    progress.StageCompleted,
		TS:       q.clock.Now(),
		Dur:      rep.Duration,
		ResultID: rep.ResultID,
	})
	return nil
}

// Fail marks a processing job failed and replaces its metadata with {"error": msg}.
func (q *Queue) Fail(ctx context.Context, job crawler.Job, msg string, rep Report) error {
	if err := q.store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusFailed, crawler.Metadata{"error": msg}); err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	q.events.Emit(progress.Event{
		JobID:  job.ID,
		Worker: job.Worker,
		Stage:  progress.StageFailed,
		TS:     q.clock.Now(),
		Dur:    rep.Duration,
		Note:   msg,
	})
	return nil
}
