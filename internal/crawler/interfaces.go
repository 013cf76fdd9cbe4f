package crawler

import (
	"context"
	"time"
)

// JobStore persists jobs and their lifecycle.
type JobStore interface {
	CreateJob(ctx context.Context, worker, requestKey string, metadata Metadata) (string, error)
	GetJob(ctx context.Context, jobID string) (Job, error)
	// GetPendingJob returns the oldest pending job, restricted to worker when non-empty, or nil.
	GetPendingJob(ctx context.Context, worker string) (*Job, error)
	// UpdateJobStatus applies a guarded transition. Non-nil metadata replaces the stored map.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, metadata Metadata) error
}

// JobLister pages through jobs, newest first.
type JobLister interface {
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
}

// ResultStore persists handler outcomes.
type ResultStore interface {
	SaveResult(ctx context.Context, in ResultInput) (string, error)
	ListResults(ctx context.Context, jobID string) ([]Result, error)
}

// ResultCache answers freshness lookups for (worker, request key).
type ResultCache interface {
	// GetCachedResult returns the newest successful result whose job is younger than maxAge, or nil.
	GetCachedResult(ctx context.Context, worker, requestKey string, maxAge time.Duration) (*Result, error)
}

// Store is the full persistence surface.
type Store interface {
	JobStore
	ResultStore
	ResultCache
}

// Handler fetches one request key for a worker tag.
type Handler interface {
	Fetch(ctx context.Context, requestKey string) (Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, requestKey string) (Outcome, error)

// Fetch calls f.
func (f HandlerFunc) Fetch(ctx context.Context, requestKey string) (Outcome, error) {
	return f(ctx, requestKey)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Hasher computes digests for cache keys and content integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and result IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
