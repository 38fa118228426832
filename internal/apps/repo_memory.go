package apps

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-memory Directory for tests and early development.
type MemoryDirectory struct {
	mu   sync.Mutex
	apps map[string]Participants
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{apps: map[string]Participants{}}
}

func (d *MemoryDirectory) Put(applicationID string, p Participants) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.apps[applicationID] = p
}

func (d *MemoryDirectory) Participants(ctx context.Context, applicationID string) (Participants, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.apps[applicationID]
	if !ok {
		return Participants{}, ErrUnknownApplication
	}
	return p, nil
}
