package session

import "fmt"

// Status defines the session lifecycle status.
type Status string

const (
	StatusInitializing Status = "initializing" // Being built, not yet running
	StatusActive       Status = "active"       // Control loop running, execution enabled
	StatusPaused       Status = "paused"       // Execution disabled by operator
	StatusSuspended    Status = "suspended"    // Execution disabled by health monitor
	StatusClosing      Status = "closing"      // Shutdown in progress
	StatusClosed       Status = "closed"       // Terminal
	StatusError        Status = "error"        // Control loop fault
)

// validTransitions defines the legal status transitions.
var validTransitions = map[Status][]Status{
	StatusInitializing: {StatusActive, StatusError},
	StatusActive:       {StatusPaused, StatusSuspended, StatusClosing, StatusError},
	StatusPaused:       {StatusActive, StatusClosing},
	StatusSuspended:    {StatusActive, StatusClosing},
	StatusClosing:      {StatusClosed},
	StatusError:        {StatusClosing},
}

// CanTransition reports whether a transition from one status to another is legal.
func CanTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusClosed
}

// TransitionError is returned for an illegal status transition.
// The session status is never mutated when it is returned.
type TransitionError struct {
	SessionID string
	From      Status
	To        Status
	Trigger   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for session %s: %s -> %s (trigger %q)",
		e.SessionID, e.From, e.To, e.Trigger)
}
