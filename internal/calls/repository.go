package calls

import (
	"context"
	"errors"
)

var (
	// ErrConflict is returned when a transition is attempted from a state
	// the state machine does not allow it from (e.g. start while ringing).
	ErrConflict = errors.New("calls: conflicting call state")

	// ErrNotFound is returned when no session exists for the application.
	ErrNotFound = errors.New("calls: session not found")

	// ErrUnauthorized is returned when the acting principal is not a
	// participant of the application.
	ErrUnauthorized = errors.New("calls: not a participant")

	ErrInvalidArgument = errors.New("calls: invalid argument")

	// ErrRateLimited is returned when the start throttle caps a caller.
	ErrRateLimited = errors.New("calls: rate limited")
)

// Repository persists call sessions and their event logs.
//
// Every transition method enforces compare-and-swap semantics on the current
// status: when the guard fails the call returns ErrConflict (or ErrNotFound)
// and nothing is written, so two racing starts cannot both succeed. Session
// mutation and event append happen in one atomic unit.
type Repository interface {
	// BeginRinging creates a fresh ringing session. Guard: no session for
	// the application, or the latest one is ended.
	BeginRinging(ctx context.Context, s Session, e Event) error

	// Transition moves the latest session from expected to next, appending
	// the event. endedAt is set for terminal transitions. Guard failure:
	// ErrConflict if the session exists in another state, ErrNotFound if no
	// session exists.
	Transition(ctx context.Context, applicationID string, expected []Status, next Status, e Event) (Session, error)

	// Latest returns the most recent session plus its full event history.
	Latest(ctx context.Context, applicationID string) (Session, error)
}
