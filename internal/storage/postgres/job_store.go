// Package postgres provides the Postgres-backed job and result store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
)

const foreignKeyViolation = "23503"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store implements crawler.Store on the crawl_jobs and crawl_results tables.
// Each method issues a single statement, so writes are atomic per call.
type Store struct {
	pool  pool
	clock crawler.Clock
	ids   crawler.IDGenerator
}

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config, clock crawler.Clock, ids crawler.IDGenerator) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, clock: clock, ids: ids}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, clock crawler.Clock, ids crawler.IDGenerator) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p, clock: clock, ids: ids}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return &crawler.StoreError{Op: "ping", Err: err}
	}
	return nil
}

// CreateJob inserts a pending job.
func (s *Store) CreateJob(
	ctx context.Context,
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
	meta, err := marshalMap(metadata)
	if err != nil {
		return "", err
	}
	now := s.clock.Now()
	query := `
INSERT INTO crawl_jobs (id, status, worker, request_key, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)`
	if _, err := s.pool.Exec(ctx, query, id, string(crawler.JobStatusPending), worker, nullString(requestKey), meta, now); err != nil {
		return "", &crawler.StoreError{Op: "create job", Err: err}
	}
	return id, nil
}

const jobColumns = `id, status, worker, COALESCE(request_key, ''), metadata, created_at, updated_at`

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM crawl_jobs WHERE id = $1`
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Job{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
		}
		return crawler.Job{}, &crawler.StoreError{Op: "get job", Err: err}
	}
	return job, nil
}

// GetPendingJob returns the oldest pending job, ties broken by insertion sequence.
func (s *Store) GetPendingJob(ctx context.Context, worker string) (*crawler.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM crawl_jobs
WHERE status = 'pending' AND ($1 = '' OR worker = $1)
ORDER BY created_at ASC, seq ASC
LIMIT 1`
	job, err := scanJob(s.pool.QueryRow(ctx, query, worker))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &crawler.StoreError{Op: "get pending job", Err: err}
	}
	return &job, nil
}

// ListJobs returns matching jobs newest first.
func (s *Store) ListJobs(ctx context.Context, filter crawler.JobFilter) ([]crawler.Job, error) {
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}
	query := `
SELECT ` + jobColumns + `
FROM crawl_jobs
WHERE ($1 = '' OR status = $1) AND ($2 = '' OR worker = $2)
ORDER BY created_at DESC, seq DESC
LIMIT $3 OFFSET $4`
	rows, err := s.pool.Query(ctx, query, string(filter.Status), filter.Worker, limit, filter.Offset)
	if err != nil {
		return nil, &crawler.StoreError{Op: "list jobs", Err: err}
	}
	defer rows.Close()

	out := []crawler.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, &crawler.StoreError{Op: "scan job", Err: err}
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, &crawler.StoreError{Op: "list jobs", Err: err}
	}
	return out, nil
}

// UpdateJobStatus applies a transition guarded by the prior status, so two pollers
// racing on one row cannot both succeed. NULL metadata keeps the stored value.
func (s *Store) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	metadata crawler.Metadata,
) error {
	prior, ok := crawler.PriorStatus(status)
	if !ok {
		return fmt.Errorf("%w: cannot enter %s", crawler.ErrInvalidTransition, status)
	}
	meta, err := marshalMap(metadata)
	if err != nil {
		return err
	}
	query := `
UPDATE crawl_jobs
SET status = $2, metadata = COALESCE($3, metadata), updated_at = GREATEST(updated_at, $4)
WHERE id = $1 AND status = $5`
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), meta, s.clock.Now(), string(prior))
	if err != nil {
		return &crawler.StoreError{Op: "update job status", Err: err}
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM crawl_jobs WHERE id = $1`, jobID).Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	case err != nil:
		return &crawler.StoreError{Op: "read job status", Err: err}
	}
	return fmt.Errorf("%w: %s -> %s", crawler.ErrInvalidTransition, current, status)
}

// SaveResult inserts a result row.
func (s *Store) SaveResult(ctx context.Context, in crawler.ResultInput) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate result id: %w", err)
	}
	data, err := marshalMap(in.Data)
	if err != nil {
		return "", err
	}
	if data == nil {
		data = []byte("{}")
	}
	meta, err := marshalMap(in.Metadata)
	if err != nil {
		return "", err
	}
	query := `
INSERT INTO crawl_results (id, job_id, original_url, final_url, data, success, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	args := []any{
		id,
		in.JobID,
		nullString(in.OriginalURL),
		in.FinalURL,
		data,
		in.Success,
		meta,
		s.clock.Now(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return "", fmt.Errorf("job %s: %w", in.JobID, crawler.ErrNotFound)
		}
		return "", &crawler.StoreError{Op: "save result", Err: err}
	}
	return id, nil
}

const resultColumns = `r.id, r.job_id, COALESCE(r.original_url, ''), r.final_url, r.data, r.success, r.metadata, r.created_at`

// ListResults returns a job's results oldest first.
func (s *Store) ListResults(ctx context.Context, jobID string) ([]crawler.Result, error) {
	query := `SELECT ` + resultColumns + ` FROM crawl_results r WHERE r.job_id = $1 ORDER BY r.created_at ASC, r.id ASC`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, &crawler.StoreError{Op: "list results", Err: err}
	}
	defer rows.Close()

	var out []crawler.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, &crawler.StoreError{Op: "scan result", Err: err}
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, &crawler.StoreError{Op: "list results", Err: err}
	}
	return out, nil
}

// GetCachedResult returns the latest successful result for (worker, requestKey), ordered
// by the parent job's created_at, if that job is younger than maxAge.
func (s *Store) GetCachedResult(
	ctx context.Context,
	worker string,
	requestKey string,
	maxAge time.Duration,
) (*crawler.Result, error) {
	if maxAge <= 0 {
		return nil, nil
	}
	cutoff := s.clock.Now().Add(-maxAge)
	query := `
SELECT ` + resultColumns + `
FROM crawl_results r
JOIN crawl_jobs j ON j.id = r.job_id
WHERE j.worker = $1 AND j.request_key = $2 AND r.success AND j.created_at > $3
ORDER BY j.created_at DESC, j.seq DESC, r.created_at DESC
LIMIT 1`
	res, err := scanResult(s.pool.QueryRow(ctx, query, worker, requestKey, cutoff))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &crawler.StoreError{Op: "get cached result", Err: err}
	}
	return &res, nil
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job    crawler.Job
		status string
		meta   []byte
	)
	if err := row.Scan(
		&job.ID,
		&status,
		&job.Worker,
		&job.RequestKey,
		&meta,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return crawler.Job{}, err
	}
	job.Status = crawler.JobStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &job.Metadata); err != nil {
			return crawler.Job{}, fmt.Errorf("decode job metadata: %w", err)
		}
	}
	return job, nil
}

func scanResult(row pgx.Row) (crawler.Result, error) {
	var (
		res        crawler.Result
		data, meta []byte
	)
	if err := row.Scan(
		&res.ID,
		&res.JobID,
		&res.OriginalURL,
		&res.FinalURL,
		&data,
		&res.Success,
		&meta,
		&res.CreatedAt,
	); err != nil {
		return crawler.Result{}, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &res.Data); err != nil {
			return crawler.Result{}, fmt.Errorf("decode result data: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &res.Metadata); err != nil {
			return crawler.Result{}, fmt.Errorf("decode result metadata: %w", err)
		}
	}
	return res, nil
}

func marshalMap[M ~map[string]any](m M) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return b, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
