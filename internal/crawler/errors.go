package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job or result does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a status update skips or reverses the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrJobNotClaimable is returned when another poller claimed the job first.
	ErrJobNotClaimable = errors.New("job not claimable")
)

// UnknownWorkerError means a job names a worker tag with no registered handler.
type UnknownWorkerError struct {
	Worker string
}

func (e *UnknownWorkerError) Error() string {
	return fmt.Sprintf("unknown worker %q", e.Worker)
}

// HandlerError means the fetch capability itself failed.
// Error returns the handler's own message so it can be recorded verbatim.
type HandlerError struct {
	Worker  string
	Message string
	Err     error
}

func (e *HandlerError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "handler failed"
	}
}

func (e *HandlerError) Unwrap() error { return e.Err }

// StoreError means the persistence layer failed or was unreachable.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsStoreError reports whether err carries a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
