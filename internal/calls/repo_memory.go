package calls

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and early development.
// It mirrors the Postgres repo's guard semantics, including the single
// live-session invariant.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string][]Session // application_id -> sessions, oldest first
	events   map[string][]Event   // session_id -> events, append order
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		sessions: map[string][]Session{},
		events:   map[string][]Event{},
	}
}

func (r *MemoryRepo) BeginRinging(ctx context.Context, s Session, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hist := r.sessions[s.ApplicationID]
	if len(hist) > 0 && hist[len(hist)-1].Status != StatusEnded {
		return ErrConflict
	}

	s.Events = nil
	r.sessions[s.ApplicationID] = append(hist, s)
	r.events[s.SessionID] = append(r.events[s.SessionID], e)
	return nil
}

func (r *MemoryRepo) Transition(ctx context.Context, applicationID string, expected []Status, next Status, e Event) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hist := r.sessions[applicationID]
	if len(hist) == 0 {
		return Session{}, ErrNotFound
	}
	s := &hist[len(hist)-1]

	if !statusIn(s.Status, expected) {
		return Session{}, ErrConflict
	}

	s.Status = next
	if next == StatusEnded {
		at := e.At
		s.EndedAt = &at
	}

	e.SessionID = s.SessionID
	r.events[s.SessionID] = append(r.events[s.SessionID], e)

	out := *s
	out.Events = append([]Event(nil), r.events[s.SessionID]...)
	return out, nil
}

func (r *MemoryRepo) Latest(ctx context.Context, applicationID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hist := r.sessions[applicationID]
	if len(hist) == 0 {
		return Session{}, ErrNotFound
	}
	out := hist[len(hist)-1]
	out.Events = append([]Event(nil), r.events[out.SessionID]...)
	return out, nil
}
