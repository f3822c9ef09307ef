package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventCategory classifies a session event.
type EventCategory string

const (
	CategoryLifecycle EventCategory = "lifecycle"
	CategoryError     EventCategory = "error"
	CategoryRecovery  EventCategory = "recovery"
)

// Severity grades a session event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is an immutable entry in a session's append-only event log.
type Event struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	Category       EventCategory  `json:"category"`
	Severity       Severity       `json:"severity"`
	Description    string         `json:"description"`
	Payload        map[string]any `json:"payload,omitempty"`
	ActionRequired bool           `json:"action_required"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(cat EventCategory, sev Severity, desc string, payload map[string]any) Event {
	return Event{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Category:    cat,
		Severity:    sev,
		Description: desc,
		Payload:     payload,
	}
}

// HookKind identifies a lifecycle extension point. The set is closed;
// registration for any other kind fails.
type HookKind string

const (
	HookCreate HookKind = "on_create"
	HookStart  HookKind = "on_start"
	HookPause  HookKind = "on_pause"
	HookResume HookKind = "on_resume"
	HookStop   HookKind = "on_stop"
	HookError  HookKind = "on_error"
)

var knownHookKinds = map[HookKind]struct{}{
	HookCreate: {},
	HookStart:  {},
	HookPause:  {},
	HookResume: {},
	HookStop:   {},
	HookError:  {},
}

// HookFunc is invoked post-transition with a point-in-time snapshot.
// A failing hook is logged and never aborts the transition.
type HookFunc func(ctx context.Context, snap Snapshot) error

// HookBus dispatches lifecycle hooks over the closed set of hook kinds.
type HookBus struct {
	mu       sync.RWMutex
	handlers map[HookKind][]HookFunc
	logger   *zap.Logger
}

// NewHookBus creates a hook bus.
func NewHookBus(logger *zap.Logger) *HookBus {
	return &HookBus{
		handlers: make(map[HookKind][]HookFunc),
		logger:   logger.With(zap.String("component", "hook_bus")),
	}
}

// Register adds a hook for the given kind. Unknown kinds are rejected.
func (b *HookBus) Register(kind HookKind, fn HookFunc) error {
	if _, ok := knownHookKinds[kind]; !ok {
		return NewError(ErrCodeInvalidConfig, fmt.Sprintf("unknown hook kind %q", kind))
	}
	if fn == nil {
		return NewError(ErrCodeInvalidConfig, "hook func cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], fn)

	b.logger.Debug("hook registered", zap.String("kind", string(kind)))
	return nil
}

// Invoke runs all hooks for the kind. Hook failures and panics are
// logged, never propagated.
func (b *HookBus) Invoke(ctx context.Context, kind HookKind, snap Snapshot) {
	b.mu.RLock()
	hooks := make([]HookFunc, len(b.handlers[kind]))
	copy(hooks, b.handlers[kind])
	b.mu.RUnlock()

	for _, fn := range hooks {
		b.invokeOne(ctx, kind, fn, snap)
	}
}

func (b *HookBus) invokeOne(ctx context.Context, kind HookKind, fn HookFunc, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("hook panicked",
				zap.String("kind", string(kind)),
				zap.String("session_id", snap.ID),
				zap.Any("panic", r),
			)
		}
	}()

	if err := fn(ctx, snap); err != nil {
		b.logger.Warn("hook failed",
			zap.String("kind", string(kind)),
			zap.String("session_id", snap.ID),
			zap.Error(err),
		)
	}
}
