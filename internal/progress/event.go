package progress

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// Stage names a lifecycle milestone.
type Stage string

// Supported lifecycle stages.
const (
	StageEnqueued  Stage = "JOB_ENQUEUED"
	StageClaimed   Stage = "JOB_CLAIMED"
	StageCacheHit  Stage = "JOB_CACHE_HIT"
	StageCompleted Stage = "JOB_COMPLETED"
	StageFailed    Stage = "JOB_FAILED"
)

// Event records one lifecycle milestone of one job.
type Event struct {
	JobID  string        `json:"job_id"`
	Worker string        `json:"worker"`
	Stage  Stage         `json:"stage"`
	TS     time.Time     `json:"ts"`
	Dur    time.Duration `json:"duration_ns,omitempty"`
	// ResultID is set on completion and cache hits.
	ResultID string `json:"result_id,omitempty"`
	// Note carries the failure message for StageFailed.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageEnqueued, StageClaimed, StageCacheHit, StageCompleted:
	case StageFailed:
		if e.Note == "" {
			return errors.New("failed event requires note")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the stage ends a job.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Attributes exposes routing fields for message brokers.
func (e Event) Attributes() map[string]string {
	return map[string]string{
		"job_id": e.JobID,
		"worker": e.Worker,
		"stage":  string(e.Stage),
	}
}

// MarshalLogObject lets events be logged with zap.Inline or zap.Object.
func (e Event) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("job_id", e.JobID)
	enc.AddString("worker", e.Worker)
	enc.AddString("stage", string(e.Stage))
	enc.AddTime("ts", e.TS)
	if e.Dur > 0 {
		enc.AddDuration("duration", e.Dur)
	}
	if e.ResultID != "" {
		enc.AddString("result_id", e.ResultID)
	}
	if e.Note != "" {
		enc.AddString("error", e.Note)
	}
	return nil
}
