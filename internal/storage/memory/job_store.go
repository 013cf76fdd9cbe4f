package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
)

type jobRow struct {
	job crawler.Job
	seq uint64
}

// Store is an in-memory crawler.Store for development and tests.
// Every method runs under a single lock, so each call is atomic.
type Store struct {
	mu      sync.RWMutex
	clock   crawler.Clock
	ids     crawler.IDGenerator
	seq     uint64
	jobs    map[string]*jobRow
	results map[string][]crawler.Result
}

// NewStore constructs a Store.
func NewStore(clock crawler.Clock, ids crawler.IDGenerator) *Store {
	return &Store{
		clock:   clock,
		ids:     ids,
		jobs:    make(map[string]*jobRow),
		results: make(map[string][]crawler.Result),
	}
}

// CreateJob stores a new job in pending status.
func (s *Store) CreateJob(
	_ context.Context,
	worker string,
	requestKey string,
	metadata crawler.Metadata,
) (string, error) {
	if worker == "" {
		return "", fmt.Errorf("worker is required")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return "", fmt.Errorf("job %s already exists", id)
	}
	now := s.clock.Now()
	s.seq++
	s.jobs[id] = &jobRow{
		seq: s.seq,
		job: crawler.Job{
			ID:         id,
			Status:     crawler.JobStatusPending,
			Worker:     worker,
			RequestKey: requestKey,
			Metadata:   metadata.Clone(),
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
	return id, nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return copyJob(row.job), nil
}

// GetPendingJob returns the oldest pending job, ties broken by insertion order.
func (s *Store) GetPendingJob(_ context.Context, worker string) (*crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *jobRow
	for _, row := range s.jobs {
		if row.job.Status != crawler.JobStatusPending {
			continue
		}
		if worker != "" && row.job.Worker != worker {
			continue
		}
		if best == nil || olderThan(row, best) {
			best = row
		}
	}
	if best == nil {
		return nil, nil
	}
	job := copyJob(best.job)
	return &job, nil
}

// ListJobs returns matching jobs newest first.
func (s *Store) ListJobs(_ context.Context, filter crawler.JobFilter) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]*jobRow, 0, len(s.jobs))
	for _, row := range s.jobs {
		if filter.Status != "" && row.job.Status != filter.Status {
			continue
		}
		if filter.Worker != "" && row.job.Worker != filter.Worker {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return olderThan(rows[j], rows[i]) })

	if filter.Offset >= len(rows) {
		return []crawler.Job{}, nil
	}
	rows = rows[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(rows) {
		rows = rows[:filter.Limit]
	}
	out := make([]crawler.Job, 0, len(rows))
	for _, row := range rows {
		out = append(out, copyJob(row.job))
	}
	return out, nil
}

// UpdateJobStatus moves a job along its lifecycle. The update only applies when the
// job currently holds the status that must precede the requested one.
func (s *Store) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	metadata crawler.Metadata,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	if !crawler.CanTransition(row.job.Status, status) {
		return fmt.Errorf("%w: %s -> %s", crawler.ErrInvalidTransition, row.job.Status, status)
	}
	row.job.Status = status
	if metadata != nil {
		row.job.Metadata = metadata.Clone()
	}
	if now := s.clock.Now(); now.After(row.job.UpdatedAt) {
		row.job.UpdatedAt = now
	}
	return nil
}

// SaveResult appends a result row for an existing job.
func (s *Store) SaveResult(_ context.Context, in crawler.ResultInput) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate result id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[in.JobID]; !ok {
		return "", fmt.Errorf("job %s: %w", in.JobID, crawler.ErrNotFound)
	}
	s.results[in.JobID] = append(s.results[in.JobID], crawler.Result{
		ID:          id,
		JobID:       in.JobID,
		OriginalURL: in.OriginalURL,
		FinalURL:    in.FinalURL,
		Data:        in.Data.Clone(),
		Success:     in.Success,
		Metadata:    in.Metadata.Clone(),
		CreatedAt:   s.clock.Now(),
	})
	return id, nil
}

// ListResults returns all results recorded for a job in insertion order.
func (s *Store) ListResults(_ context.Context, jobID string) ([]crawler.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := s.results[jobID]
	out := make([]crawler.Result, len(results))
	for i, r := range results {
		out[i] = copyResult(r)
	}
	return out, nil
}

// GetCachedResult returns the latest successful result for (worker, requestKey) whose
// job was created less than maxAge ago.
func (s *Store) GetCachedResult(
	_ context.Context,
	worker string,
	requestKey string,
	maxAge time.Duration,
) (*crawler.Result, error) {
	if maxAge <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		bestJob    *jobRow
		bestResult crawler.Result
	)
	for id, row := range s.jobs {
		if row.job.Worker != worker || row.job.RequestKey != requestKey {
			continue
		}
		latest, ok := latestSuccess(s.results[id])
		if !ok {
			continue
		}
		if bestJob == nil || olderThan(bestJob, row) {
			bestJob = row
			bestResult = latest
		}
	}
	if bestJob == nil {
		return nil, nil
	}
	if s.clock.Now().Sub(bestJob.job.CreatedAt) >= maxAge {
		return nil, nil
	}
	out := copyResult(bestResult)
	return &out, nil
}

func latestSuccess(results []crawler.Result) (crawler.Result, bool) {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Success {
			return results[i], true
		}
	}
	return crawler.Result{}, false
}

func olderThan(a, b *jobRow) bool {
	if a.job.CreatedAt.Equal(b.job.CreatedAt) {
		return a.seq < b.seq
	}
	return a.job.CreatedAt.Before(b.job.CreatedAt)
}

func copyJob(job crawler.Job) crawler.Job {
	job.Metadata = job.Metadata.Clone()
	return job
}

func copyResult(r crawler.Result) crawler.Result {
	r.Data = r.Data.Clone()
	r.Metadata = r.Metadata.Clone()
	return r
}
