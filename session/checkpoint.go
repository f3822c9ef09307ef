package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// CheckpointState is the restorable portion of a session, serialized
// canonically (json.Marshal orders map keys) so the checksum is stable.
type CheckpointState struct {
	SessionID   string                  `json:"session_id"`
	Status      Status                  `json:"status"`
	Workers     map[string]*WorkerState `json:"workers"`
	Environment *EnvironmentState       `json:"environment,omitempty"`
	TaskState   json.RawMessage         `json:"task_state,omitempty"`
	CapturedAt  time.Time               `json:"captured_at"`
}

// captureStateLocked copies the restorable state. Callers must hold s.mu.
func captureStateLocked(s *Session) CheckpointState {
	workers := make(map[string]*WorkerState, len(s.Workers))
	for id, w := range s.Workers {
		wc := *w
		workers[id] = &wc
	}

	var env *EnvironmentState
	if s.Environment != nil {
		e := *s.Environment
		env = &e
	}

	var task json.RawMessage
	if s.TaskState != nil {
		task = append(json.RawMessage(nil), s.TaskState...)
	}

	return CheckpointState{
		SessionID:   s.ID,
		Status:      s.Status,
		Workers:     workers,
		Environment: env,
		TaskState:   task,
		CapturedAt:  time.Now(),
	}
}

// EncodeCheckpointState serializes the state canonically.
func EncodeCheckpointState(st CheckpointState) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint state: %w", err)
	}
	return data, nil
}

// DecodeCheckpointState deserializes checkpoint state bytes.
func DecodeCheckpointState(data []byte) (CheckpointState, error) {
	var st CheckpointState
	if err := json.Unmarshal(data, &st); err != nil {
		return CheckpointState{}, fmt.Errorf("failed to decode checkpoint state: %w", err)
	}
	return st, nil
}

// applyStateLocked restores worker, environment, and task state from a
// checkpoint. Status stays untouched: it is only mutated through the
// controller's transition path. Callers must hold s.mu.
func applyStateLocked(s *Session, st CheckpointState) {
	workers := make(map[string]*WorkerState, len(st.Workers))
	for id, w := range st.Workers {
		wc := *w
		workers[id] = &wc
	}
	s.Workers = workers
	s.Environment = st.Environment
	s.TaskState = st.TaskState
}
