package session

import (
	"encoding/json"
	"sync"
	"time"
)

// Type classifies a session.
type Type string

const (
	TypeStandard       Type = "standard"
	TypeExtendedHours  Type = "extended_hours"
	TypeSimulated      Type = "simulated"
	TypeBacktest       Type = "backtest"
	TypeManualOverride Type = "manual_override"
)

// WorkerStatus is the activity status of a single worker sub-state.
type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerWorking WorkerStatus = "working"
	WorkerPaused  WorkerStatus = "paused"
	WorkerError   WorkerStatus = "error"
	WorkerStopped WorkerStatus = "stopped"
)

// WorkerState tracks one cooperating worker. The core never inspects
// worker internals, only this sub-state.
type WorkerState struct {
	WorkerID      string             `json:"worker_id"`
	Status        WorkerStatus       `json:"status"`
	Actions       int64              `json:"actions"`
	Decisions     int64              `json:"decisions"`
	Errors        int64              `json:"errors"`
	ResourceUsage map[string]float64 `json:"resource_usage,omitempty"`
	LastActiveAt  time.Time          `json:"last_active_at,omitempty"`
}

// RiskLimits are the named risk-parameter limits a session runs under.
// Fixed fields, validated at construction; unknown keys are rejected by
// the strict config decoder.
type RiskLimits struct {
	// MaxLoss is the realized-loss ceiling that triggers auto-stop.
	MaxLoss float64 `yaml:"max_loss" json:"max_loss"`

	// MaxExposure caps total open exposure across workers.
	MaxExposure float64 `yaml:"max_exposure" json:"max_exposure"`

	// MaxActionsPerWorker caps actions any single worker may take.
	MaxActionsPerWorker int64 `yaml:"max_actions_per_worker" json:"max_actions_per_worker"`
}

// Validate checks that all risk budgets are non-negative.
func (r RiskLimits) Validate() error {
	if r.MaxLoss < 0 || r.MaxExposure < 0 || r.MaxActionsPerWorker < 0 {
		return NewError(ErrCodeInvalidConfig, "risk limits must be non-negative")
	}
	return nil
}

// Options is the typed per-session configuration.
type Options struct {
	// WorkerIDs are the workers the session coordinates.
	WorkerIDs []string `yaml:"worker_ids" json:"worker_ids"`

	// LoopInterval is the control-loop delay while active.
	LoopInterval time.Duration `yaml:"loop_interval" json:"loop_interval"`

	// PausedLoopInterval is the control-loop delay while paused.
	PausedLoopInterval time.Duration `yaml:"paused_loop_interval" json:"paused_loop_interval"`

	// CheckpointInterval is the minimum spacing between routine checkpoints.
	CheckpointInterval time.Duration `yaml:"checkpoint_interval" json:"checkpoint_interval"`

	// MaxDuration is the hard session-duration ceiling enforced by the
	// health monitor (0 means unlimited).
	MaxDuration time.Duration `yaml:"max_duration" json:"max_duration"`

	// IdleTimeout stops sessions left paused or suspended beyond it,
	// measured from the last status transition (0 means unlimited).
	// Enforced by the health monitor, like MaxDuration.
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// MaxCheckpoints caps the fast/durable checkpoint list before the
	// oldest excess is archived.
	MaxCheckpoints int `yaml:"max_checkpoints" json:"max_checkpoints"`
}

// Validate checks option sanity.
func (o Options) Validate() error {
	if len(o.WorkerIDs) == 0 {
		return NewError(ErrCodeInvalidConfig, "at least one worker is required")
	}
	if o.LoopInterval <= 0 || o.PausedLoopInterval <= 0 {
		return NewError(ErrCodeInvalidConfig, "loop intervals must be positive")
	}
	if o.CheckpointInterval <= 0 {
		return NewError(ErrCodeInvalidConfig, "checkpoint interval must be positive")
	}
	if o.MaxCheckpoints <= 0 {
		return NewError(ErrCodeInvalidConfig, "max checkpoints must be positive")
	}
	if o.MaxDuration < 0 || o.IdleTimeout < 0 {
		return NewError(ErrCodeInvalidConfig, "duration ceilings must be non-negative")
	}
	return nil
}

// EnvironmentState is a snapshot of the external execution environment.
type EnvironmentState struct {
	Open       bool               `json:"open"`
	Timestamp  time.Time          `json:"timestamp"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Metrics are computed per session, finalized on stop.
type Metrics struct {
	Duration        time.Duration `json:"duration"`
	TotalActions    int64         `json:"total_actions"`
	TotalDecisions  int64         `json:"total_decisions"`
	TotalErrors     int64         `json:"total_errors"`
	CheckpointCount int           `json:"checkpoint_count"`
	RecoveryCount   int           `json:"recovery_count"`
	RealizedLoss    float64       `json:"realized_loss"`
}

// RecoveryInfo records the most recent successful recovery.
type RecoveryInfo struct {
	RecoveredAt  time.Time `json:"recovered_at"`
	CheckpointID string    `json:"checkpoint_id"`
	Attempts     int       `json:"attempts"`
}

// TransitionRecord is an immutable record of one status transition.
type TransitionRecord struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Trigger   string    `json:"trigger"`
	Timestamp time.Time `json:"timestamp"`
	PreOK     bool      `json:"pre_ok"`
	PostOK    bool      `json:"post_ok"`
}

// Session is the central aggregate. All field mutation goes through the
// controller's transition or checkpoint-restore paths under mu; the
// control loop and sweep tasks read point-in-time snapshots.
type Session struct {
	mu sync.Mutex

	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	Options Options    `json:"options"`
	Risk    RiskLimits `json:"risk"`

	Workers     map[string]*WorkerState `json:"workers"`
	Environment *EnvironmentState       `json:"environment,omitempty"`
	TaskState   json.RawMessage         `json:"task_state,omitempty"`

	Events        []Event            `json:"events"`
	Transitions   []TransitionRecord `json:"transitions"`
	CheckpointIDs []string           `json:"checkpoint_ids"`

	// ArchivedCount is how many leading checkpoint ids have moved to the
	// archive tier. The ids stay listed for audit.
	ArchivedCount int `json:"archived_count"`

	Metrics  *Metrics      `json:"metrics,omitempty"`
	Recovery *RecoveryInfo `json:"recovery,omitempty"`

	// everActive is set on the first transition to active; the health
	// monitor requires a non-empty checkpoint list once this holds.
	everActive bool

	lastCheckpointAt time.Time
}

// Snapshot is a point-in-time copy of the fields sweep tasks and hooks
// may inspect without holding the session lock.
type Snapshot struct {
	ID               string
	Type             Type
	Status           Status
	CreatedAt        time.Time
	StartedAt        time.Time
	EndedAt          time.Time
	Options          Options
	Risk             RiskLimits
	Workers          map[string]WorkerState
	Environment      *EnvironmentState
	CheckpointIDs    []string
	EventCount       int
	EverActive       bool
	LastCheckpointAt time.Time
	LastTransitionAt time.Time
	Metrics          *Metrics
}

// Snapshot copies the session state under its lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	workers := make(map[string]WorkerState, len(s.Workers))
	for id, w := range s.Workers {
		workers[id] = *w
	}

	ids := make([]string, len(s.CheckpointIDs))
	copy(ids, s.CheckpointIDs)

	var env *EnvironmentState
	if s.Environment != nil {
		e := *s.Environment
		env = &e
	}

	var m *Metrics
	if s.Metrics != nil {
		mc := *s.Metrics
		m = &mc
	}

	var lastTransition time.Time
	if n := len(s.Transitions); n > 0 {
		lastTransition = s.Transitions[n-1].Timestamp
	}

	return Snapshot{
		ID:               s.ID,
		Type:             s.Type,
		Status:           s.Status,
		CreatedAt:        s.CreatedAt,
		StartedAt:        s.StartedAt,
		EndedAt:          s.EndedAt,
		Options:          s.Options,
		Risk:             s.Risk,
		Workers:          workers,
		Environment:      env,
		CheckpointIDs:    ids,
		EventCount:       len(s.Events),
		EverActive:       s.everActive,
		LastCheckpointAt: s.lastCheckpointAt,
		LastTransitionAt: lastTransition,
		Metrics:          m,
	}
}

// CurrentStatus returns the status under the session lock.
func (s *Session) CurrentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status
}

// appendEventLocked appends to the append-only event log. Callers must hold mu.
func (s *Session) appendEventLocked(ev Event) {
	s.Events = append(s.Events, ev)
}

// AppendEvent appends to the append-only event log under the session lock.
func (s *Session) AppendEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendEventLocked(ev)
}

// EventsByCategory returns a copy of the events matching the category.
func (s *Session) EventsByCategory(cat EventCategory) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0)
	for _, ev := range s.Events {
		if ev.Category == cat {
			out = append(out, ev)
		}
	}
	return out
}

// WorkerErrorRatio returns the fraction of workers in the error sub-state.
func (s *Snapshot) WorkerErrorRatio() float64 {
	if len(s.Workers) == 0 {
		return 0
	}
	errored := 0
	for _, w := range s.Workers {
		if w.Status == WorkerError {
			errored++
		}
	}
	return float64(errored) / float64(len(s.Workers))
}
