package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrCodeCapacityExceeded, "ceiling reached")
	assert.Equal(t, "[CAPACITY_EXCEEDED] ceiling reached", err.Error())

	wrapped := WrapError(ErrCodeStoreUnavailable, "save failed", errors.New("boom"))
	assert.Equal(t, "[STORE_UNAVAILABLE] save failed: boom", wrapped.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(ErrCodeStoreUnavailable, "save failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, fmt.Errorf("outer: %w", err), cause)
}

func TestIsCode(t *testing.T) {
	err := ErrSessionNotFound("sess_1")
	assert.True(t, IsCode(err, ErrCodeSessionNotFound))
	assert.False(t, IsCode(err, ErrCodeCapacityExceeded))

	// Works through wrapping.
	assert.True(t, IsCode(fmt.Errorf("outer: %w", err), ErrCodeSessionNotFound))

	assert.False(t, IsCode(errors.New("plain"), ErrCodeSessionNotFound))
	assert.False(t, IsCode(nil, ErrCodeSessionNotFound))
}

func TestErrorConstructors(t *testing.T) {
	assert.True(t, IsCode(ErrCapacityExceeded(16), ErrCodeCapacityExceeded))
	assert.True(t, IsCode(ErrNoRecoveryCandidate("sess_1"), ErrCodeNoRecoveryCandidate))
	assert.Contains(t, ErrSessionNotFound("sess_1").Error(), "sess_1")
}
