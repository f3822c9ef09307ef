package store

import (
	"context"
	"sync"
)

// MemoryTier is an in-memory tier for development and testing.
type MemoryTier struct {
	mu          sync.RWMutex
	name        string
	checkpoints map[string]*Checkpoint
	sessions    map[string][]byte
	failing     bool
	closed      bool
}

// NewMemoryTier creates a named in-memory tier.
func NewMemoryTier(name string) *MemoryTier {
	return &MemoryTier{
		name:        name,
		checkpoints: make(map[string]*Checkpoint),
		sessions:    make(map[string][]byte),
	}
}

// SetFailing toggles simulated unavailability; while failing every
// operation returns ErrTierUnavailable.
func (t *MemoryTier) SetFailing(failing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failing = failing
}

// Name implements Tier.
func (t *MemoryTier) Name() string { return t.name }

func (t *MemoryTier) checkState() error {
	if t.closed {
		return ErrStoreClosed
	}
	if t.failing {
		return ErrTierUnavailable
	}
	return nil
}

// SaveCheckpoint stores a copy of the checkpoint.
func (t *MemoryTier) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkState(); err != nil {
		return err
	}
	cpCopy := *cp
	cpCopy.State = append([]byte(nil), cp.State...)
	t.checkpoints[cp.ID] = &cpCopy
	return nil
}

// LoadCheckpoint returns a copy of the stored checkpoint.
func (t *MemoryTier) LoadCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.checkState(); err != nil {
		return nil, err
	}
	cp, ok := t.checkpoints[id]
	if !ok {
		return nil, ErrNotFound
	}
	cpCopy := *cp
	cpCopy.State = append([]byte(nil), cp.State...)
	return &cpCopy, nil
}

// DeleteCheckpoint removes the checkpoint.
func (t *MemoryTier) DeleteCheckpoint(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkState(); err != nil {
		return err
	}
	delete(t.checkpoints, id)
	return nil
}

// SaveSessionRecord stores the session record.
func (t *MemoryTier) SaveSessionRecord(ctx context.Context, sessionID string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkState(); err != nil {
		return err
	}
	t.sessions[sessionID] = append([]byte(nil), data...)
	return nil
}

// LoadSessionRecord loads the session record.
func (t *MemoryTier) LoadSessionRecord(ctx context.Context, sessionID string) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.checkState(); err != nil {
		return nil, err
	}
	data, ok := t.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of stored checkpoints.
func (t *MemoryTier) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.checkpoints)
}

// Ping reports simulated availability.
func (t *MemoryTier) Ping(ctx context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.checkState()
}

// Close marks the tier closed.
func (t *MemoryTier) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
