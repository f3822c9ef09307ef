package session

import (
	"sync"

	"go.uber.org/zap"
)

// Registry is the in-memory map of sessions running in this process.
// It is the source of truth for "registered here"; all coordination
// between the controller and the sweep tasks goes through it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	capacity int
	logger   *zap.Logger
}

// NewRegistry creates a registry with an active-session ceiling.
func NewRegistry(capacity int, logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		capacity: capacity,
		logger:   logger.With(zap.String("component", "session_registry")),
	}
}

// Add registers a session, enforcing the capacity ceiling. The registry
// is left unchanged when the ceiling would be exceeded.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capacity > 0 && len(r.sessions) >= r.capacity {
		return ErrCapacityExceeded(r.capacity)
	}
	r.sessions[s.ID] = s

	r.logger.Info("session registered",
		zap.String("session_id", s.ID),
		zap.Int("registered", len(r.sessions)),
	)
	return nil
}

// Remove deregisters a session.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
	r.logger.Info("session deregistered",
		zap.String("session_id", id),
		zap.Int("registered", len(r.sessions)),
	)
}

// Get returns the session by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound(id)
	}
	return s, nil
}

// List returns all registered sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// ListActive returns the sessions currently in the active status.
func (r *Registry) ListActive() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.CurrentStatus() == StatusActive {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
