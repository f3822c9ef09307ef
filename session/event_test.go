package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewEvent(t *testing.T) {
	ev := NewEvent(CategoryLifecycle, SeverityInfo, "session_created", map[string]any{"workers": 2})

	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, CategoryLifecycle, ev.Category)
	assert.Equal(t, "session_created", ev.Description)
	assert.False(t, ev.ActionRequired)
}

func TestEventsByCategory(t *testing.T) {
	s := &Session{ID: "sess_1"}
	s.AppendEvent(NewEvent(CategoryLifecycle, SeverityInfo, "a", nil))
	s.AppendEvent(NewEvent(CategoryError, SeverityWarning, "b", nil))
	s.AppendEvent(NewEvent(CategoryLifecycle, SeverityInfo, "c", nil))

	lifecycle := s.EventsByCategory(CategoryLifecycle)
	require.Len(t, lifecycle, 2)
	assert.Equal(t, "a", lifecycle[0].Description)
	assert.Equal(t, "c", lifecycle[1].Description)
	assert.Len(t, s.EventsByCategory(CategoryRecovery), 0)
}

func TestHookBusRejectsUnknownKind(t *testing.T) {
	b := NewHookBus(zap.NewNop())

	err := b.Register(HookKind("on_teardown"), func(context.Context, Snapshot) error { return nil })
	assert.True(t, IsCode(err, ErrCodeInvalidConfig))

	err = b.Register(HookStart, nil)
	assert.True(t, IsCode(err, ErrCodeInvalidConfig))
}

func TestHookBusInvoke(t *testing.T) {
	b := NewHookBus(zap.NewNop())

	var calls []string
	require.NoError(t, b.Register(HookStart, func(_ context.Context, snap Snapshot) error {
		calls = append(calls, "first:"+snap.ID)
		return nil
	}))
	require.NoError(t, b.Register(HookStart, func(_ context.Context, snap Snapshot) error {
		calls = append(calls, "second:"+snap.ID)
		return nil
	}))

	b.Invoke(context.Background(), HookStart, Snapshot{ID: "sess_1"})
	assert.Equal(t, []string{"first:sess_1", "second:sess_1"}, calls)

	// Kinds with no handlers are a no-op.
	b.Invoke(context.Background(), HookStop, Snapshot{ID: "sess_1"})
}

func TestHookBusIsolatesFailures(t *testing.T) {
	b := NewHookBus(zap.NewNop())

	var reached bool
	require.NoError(t, b.Register(HookError, func(context.Context, Snapshot) error {
		return errors.New("hook failed")
	}))
	require.NoError(t, b.Register(HookError, func(context.Context, Snapshot) error {
		panic("hook panicked")
	}))
	require.NoError(t, b.Register(HookError, func(context.Context, Snapshot) error {
		reached = true
		return nil
	}))

	// Neither the error nor the panic stops the remaining hooks.
	b.Invoke(context.Background(), HookError, Snapshot{ID: "sess_1"})
	assert.True(t, reached)
}
