package chat

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("chat: thread not found")
	ErrUnauthorized    = errors.New("chat: not a participant")
	ErrEmptyMessage    = errors.New("chat: empty message")
	ErrRateLimited     = errors.New("chat: rate limited")
	ErrInvalidArgument = errors.New("chat: invalid argument")
)

// Repository persists threads and their ordered messages.
//
// Append must create the thread if absent (atomic upsert) and insert the
// message in one unit, so a crash cannot leave a message without a thread.
type Repository interface {
	Append(ctx context.Context, t Thread, m Message) error

	// Messages returns the transcript in creation order, capped at limit
	// (0 means no cap). ErrNotFound when no thread exists.
	Messages(ctx context.Context, applicationID string, limit int) ([]Message, error)
}
