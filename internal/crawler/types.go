// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// PriorStatus returns the only status a job may hold immediately before moving to next.
// The boolean is false for statuses that cannot be entered by a transition (pending, unknown).
func PriorStatus(next JobStatus) (JobStatus, bool) {
	switch next {
	case JobStatusProcessing:
		return JobStatusPending, true
	case JobStatusCompleted, JobStatusFailed:
		return JobStatusProcessing, true
	default:
		return "", false
	}
}

// CanTransition reports whether pending -> processing -> {completed | failed} permits from -> to.
func CanTransition(from, to JobStatus) bool {
	prior, ok := PriorStatus(to)
	return ok && prior == from
}

// Metadata is the opaque key/value map attached to jobs and results.
type Metadata map[string]any

// Clone returns a shallow copy, preserving nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Job is a unit of requested fetch work.
type Job struct {
	ID         string    `json:"id"`
	Status     JobStatus `json:"status"`
	Worker     string    `json:"worker"`
	RequestKey string    `json:"request_key,omitempty"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// JobFilter narrows ListJobs. Zero values match everything; Limit 0 means no limit.
type JobFilter struct {
	Status JobStatus
	Worker string
	Limit  int
	Offset int
}

// Result is a persisted outcome of processing a job.
type Result struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	OriginalURL string    `json:"original_url,omitempty"`
	FinalURL    string    `json:"final_url"`
	Data        Payload   `json:"data"`
	Success     bool      `json:"success"`
	Metadata    Metadata  `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ResultInput carries the fields a caller supplies when saving a result.
type ResultInput struct {
	JobID       string
	FinalURL    string
	OriginalURL string
	Data        Payload
	Success     bool
	Metadata    Metadata
}

// Outcome is what a Handler reports back for one request key.
type Outcome struct {
	Success  bool
	FinalURL string
	Payload  Payload
	Error    string
}

// JobResult is returned by the API result endpoint.
type JobResult struct {
	Job     Job      `json:"job"`
	Results []Result `json:"results"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID                 string
	URL                   string
	UseHeadless           bool
	Headers               http.Header
	RespectRobots         bool
	RespectRobotsProvided bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
