package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/riya/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadySent indicates that a trigger was already marked sent by
	// another dispatcher. Callers treat it as a no-op.
	ErrAlreadySent = errors.New("trigger already sent")

	// ErrConflict indicates a concurrent write collided with this one.
	ErrConflict = errors.New("storage conflict")
)

// ConflictError wraps a backend error caused by a concurrent write (unique
// violation, serialization failure, busy database). It matches ErrConflict
// under errors.Is.
type ConflictError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying backend error.
func (e *ConflictError) Unwrap() error { return e.Err }

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// MemoryFilter narrows ListMemories.
type MemoryFilter struct {
	// IDs restricts the result to the given memory ids. Empty means all.
	IDs []string

	// CreatedAfter filters to memories created strictly after this time.
	// Zero value means no lower bound.
	CreatedAfter time.Time

	// Limit caps the result size; 0 means unlimited.
	Limit int
}

// VerificationUpdate carries a confidence-scoring outcome.
type VerificationUpdate struct {
	Status types.VerificationStatus

	// Note replaces the clarification note when non-empty.
	Note string

	// OnlyIfAutomatic makes the write conditional on the stored status not
	// being human-set (user_confirmed or disputed).
	OnlyIfAutomatic bool
}

// TriggerFilter narrows ListUserTriggers.
type TriggerFilter struct {
	Type types.TriggerType // Empty means all types

	// Sent filters on delivery state; nil means both.
	Sent *bool

	// ScheduledFrom and ScheduledTo bound scheduled_for (inclusive).
	// Zero values mean unbounded.
	ScheduledFrom time.Time
	ScheduledTo   time.Time

	// SentAfter keeps only triggers sent strictly after this time.
	SentAfter time.Time
}

// Matches reports whether a trigger satisfies the filter. Backends that
// cannot express a clause in SQL use it to post-filter.
func (f TriggerFilter) Matches(t *types.EngagementTrigger) bool {
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Sent != nil && t.Sent != *f.Sent {
		return false
	}
	if !f.ScheduledFrom.IsZero() && t.ScheduledFor.Before(f.ScheduledFrom) {
		return false
	}
	if !f.ScheduledTo.IsZero() && t.ScheduledFor.After(f.ScheduledTo) {
		return false
	}
	if !f.SentAfter.IsZero() && (t.SentAt == nil || !t.SentAt.After(f.SentAfter)) {
		return false
	}
	return true
}

// Bool returns a pointer to b, for filter fields.
func Bool(b bool) *bool { return &b }
