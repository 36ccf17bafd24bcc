package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrTickInProgress is returned when a scheduler loop is asked to run
	// while its previous run has not finished. The tick is skipped.
	ErrTickInProgress = errors.New("scheduler tick already in progress")

	// ErrNotStarted is returned by Engine methods that need running workers.
	ErrNotStarted = errors.New("engine not started")
)

// SchedulingError reports a trigger that could not be emitted. The trigger
// stays unsent and is retried on the next dispatch tick.
type SchedulingError struct {
	TriggerID string
	UserID    string
	Step      string // resolve_user, resolve_session, emit, mark_sent
	Err       error
}

// Error implements the error interface.
func (e *SchedulingError) Error() string {
	return fmt.Sprintf("scheduling trigger %s for user %s failed at %s: %v", e.TriggerID, e.UserID, e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *SchedulingError) Unwrap() error { return e.Err }
