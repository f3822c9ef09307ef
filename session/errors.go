package session

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the session core.
type ErrorCode string

const (
	ErrCodeInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	ErrCodeCapacityExceeded    ErrorCode = "CAPACITY_EXCEEDED"
	ErrCodeNoRecoveryCandidate ErrorCode = "NO_RECOVERY_CANDIDATE"
	ErrCodeChecksumMismatch    ErrorCode = "CHECKSUM_MISMATCH"
	ErrCodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeControlLoopFault    ErrorCode = "CONTROL_LOOP_FAULT"
	ErrCodeStoreUnavailable    ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeInvalidConfig       ErrorCode = "INVALID_CONFIG"
)

// Error represents a structured error with code, message, and cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a structured error wrapping a cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// IsCode reports whether err (or anything it wraps) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// ErrSessionNotFound builds a SESSION_NOT_FOUND error for the given id.
func ErrSessionNotFound(id string) *Error {
	return NewError(ErrCodeSessionNotFound, fmt.Sprintf("session %s not found", id))
}

// ErrCapacityExceeded builds a CAPACITY_EXCEEDED error for the given ceiling.
func ErrCapacityExceeded(limit int) *Error {
	return NewError(ErrCodeCapacityExceeded, fmt.Sprintf("active session ceiling %d reached", limit))
}

// ErrNoRecoveryCandidate builds a NO_RECOVERY_CANDIDATE error for the given session.
func ErrNoRecoveryCandidate(sessionID string) *Error {
	return NewError(ErrCodeNoRecoveryCandidate, fmt.Sprintf("no recovery candidates for session %s", sessionID))
}
