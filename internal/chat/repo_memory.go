package chat

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and early development.
type MemoryRepo struct {
	mu       sync.Mutex
	threads  map[string]Thread
	messages map[string][]Message
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		threads:  map[string]Thread{},
		messages: map[string][]Message{},
	}
}

func (r *MemoryRepo) Append(ctx context.Context, t Thread, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.threads[t.ApplicationID]; !ok {
		r.threads[t.ApplicationID] = t
	}
	r.messages[m.ApplicationID] = append(r.messages[m.ApplicationID], m)
	return nil
}

func (r *MemoryRepo) Messages(ctx context.Context, applicationID string, limit int) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.threads[applicationID]; !ok {
		return nil, ErrNotFound
	}
	msgs := r.messages[applicationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]Message(nil), msgs...), nil
}
