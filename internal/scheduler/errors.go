package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrSchedulingFailed means the store rejected a write; the request did not take effect.
	ErrSchedulingFailed = errors.New("scheduling failed")
	// ErrNotRunning is returned by operations on a manager that is not started.
	ErrNotRunning = errors.New("scheduler not running")
	// ErrAlreadyInitialized is returned by Init when the process manager exists.
	ErrAlreadyInitialized = errors.New("scheduler already initialized")
	// ErrBookkeepingPending means Shutdown gave up while a wake was still
	// recording fire results; closing the store then could lose them.
	ErrBookkeepingPending = errors.New("scheduler bookkeeping pending")
)

// PresenterError wraps a presenter failure for one schedule. It is logged and
// published, never returned to callers of Add.
type PresenterError struct {
	ID  string
	Err error
}

func (e *PresenterError) Error() string {
	return fmt.Sprintf("present %s: %v", e.ID, e.Err)
}

func (e *PresenterError) Unwrap() error { return e.Err }

func schedulingFailed(op, id string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrSchedulingFailed, op, id, err)
}
