package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradeflow-io/tradeflow/internal/metrics"
	"github.com/tradeflow-io/tradeflow/store"
)

// ControllerConfig configures the lifecycle controller.
type ControllerConfig struct {
	// MaxActiveSessions is the registry ceiling (0 means unlimited).
	MaxActiveSessions int `yaml:"max_active_sessions" json:"max_active_sessions"`

	// RecoveryCandidates is how many recent checkpoints a recovery plan
	// considers.
	RecoveryCandidates int `yaml:"recovery_candidates" json:"recovery_candidates"`
}

// DefaultControllerConfig returns the default controller configuration.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MaxActiveSessions:  16,
		RecoveryCandidates: 5,
	}
}

// TaskHooks are opaque domain callbacks invoked around pause/resume/stop.
// The task-state payload is never interpreted by the session core. Any
// field may be nil.
type TaskHooks struct {
	OnPause  func(ctx context.Context, sessionID string, taskState json.RawMessage) error
	OnResume func(ctx context.Context, sessionID string, taskState json.RawMessage) error

	// OnStop may unwind open task state and return the final state to
	// persist with the closing checkpoint.
	OnStop func(ctx context.Context, sessionID string, taskState json.RawMessage) (json.RawMessage, error)
}

// Overrides optionally replace template defaults at creation.
type Overrides struct {
	Options *Options
	Risk    *RiskLimits
}

// Controller owns the session finite state machine. It is the sole
// writer of session status; every transition, checkpoint append, and
// restore goes through it.
type Controller struct {
	cfg       ControllerConfig
	registry  *Registry
	templates *TemplateRegistry
	store     store.Store
	planner   *RecoveryPlanner
	env       EnvironmentProvider
	notifier  Notifier
	hooks     *HookBus
	taskHooks TaskHooks
	metrics   *metrics.Collector
	logger    *zap.Logger

	loopMu sync.Mutex
	loops  map[string]*controlLoop

	condMu     sync.RWMutex
	conditions []AutoStopCondition
}

// NewController creates a lifecycle controller. The template registry is
// injected so its lifetime is tied to the controller's owner; notifier
// and collector may be nil.
func NewController(
	cfg ControllerConfig,
	st store.Store,
	templates *TemplateRegistry,
	env EnvironmentProvider,
	notifier Notifier,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Controller {
	c := &Controller{
		cfg:        cfg,
		registry:   NewRegistry(cfg.MaxActiveSessions, logger),
		templates:  templates,
		store:      st,
		env:        env,
		notifier:   notifier,
		hooks:      NewHookBus(logger),
		metrics:    collector,
		logger:     logger.With(zap.String("component", "lifecycle_controller")),
		loops:      make(map[string]*controlLoop),
		conditions: DefaultAutoStopConditions(),
	}
	c.planner = NewRecoveryPlanner(st, cfg.RecoveryCandidates, collector, logger)
	return c
}

// Registry exposes the session registry to the sweep tasks.
func (c *Controller) Registry() *Registry { return c.registry }

// Templates exposes the injected template registry.
func (c *Controller) Templates() *TemplateRegistry { return c.templates }

// SetTaskHooks installs the domain unwind callbacks.
func (c *Controller) SetTaskHooks(hooks TaskHooks) { c.taskHooks = hooks }

// RegisterLifecycleHook registers a hook for one of the closed set of
// lifecycle extension points.
func (c *Controller) RegisterLifecycleHook(kind HookKind, fn HookFunc) error {
	return c.hooks.Register(kind, fn)
}

// RegisterAutoStopCondition adds a predicate evaluated each loop iteration.
func (c *Controller) RegisterAutoStopCondition(cond AutoStopCondition) {
	c.condMu.Lock()
	defer c.condMu.Unlock()
	c.conditions = append(c.conditions, cond)
}

func (c *Controller) autoStopConditions() []AutoStopCondition {
	c.condMu.RLock()
	defer c.condMu.RUnlock()
	out := make([]AutoStopCondition, len(c.conditions))
	copy(out, c.conditions)
	return out
}

// CreateSession builds a session from the built-in template for its type.
func (c *Controller) CreateSession(ctx context.Context, typ Type, overrides *Overrides) (*Session, error) {
	tpl, err := c.templates.ForType(typ)
	if err != nil {
		return nil, err
	}
	return c.createFromTemplate(ctx, tpl, overrides)
}

// CreateSessionFromTemplate builds a session from a named template.
func (c *Controller) CreateSessionFromTemplate(ctx context.Context, templateID string, overrides *Overrides) (*Session, error) {
	tpl, err := c.templates.Get(templateID)
	if err != nil {
		return nil, err
	}
	return c.createFromTemplate(ctx, tpl, overrides)
}

func (c *Controller) createFromTemplate(ctx context.Context, tpl Template, overrides *Overrides) (*Session, error) {
	opts := tpl.Options
	risk := tpl.Risk
	if overrides != nil {
		if overrides.Options != nil {
			opts = *overrides.Options
		}
		if overrides.Risk != nil {
			risk = *overrides.Risk
		}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := risk.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		ID:        "sess_" + uuid.NewString(),
		Type:      tpl.Type,
		Status:    StatusInitializing,
		CreatedAt: time.Now(),
		Options:   opts,
		Risk:      risk,
		Workers:   make(map[string]*WorkerState, len(opts.WorkerIDs)),
	}
	for _, wid := range opts.WorkerIDs {
		s.Workers[wid] = &WorkerState{
			WorkerID:      wid,
			Status:        WorkerIdle,
			ResourceUsage: make(map[string]float64),
		}
	}

	// Snapshot the environment; a provider outage must not block creation.
	if env, err := c.env.GetCurrentEnvironmentState(ctx); err != nil {
		c.logger.Warn("environment snapshot failed during creation",
			zap.String("session_id", s.ID), zap.Error(err))
	} else {
		s.Environment = env
	}

	// The registry is left unchanged when the ceiling is hit.
	if err := c.registry.Add(s); err != nil {
		return nil, err
	}

	s.AppendEvent(NewEvent(CategoryLifecycle, SeverityInfo, "session_created", map[string]any{
		"type":     string(s.Type),
		"template": tpl.ID,
		"workers":  len(s.Workers),
	}))

	if _, err := c.CreateCheckpoint(ctx, s.ID, "initial"); err != nil {
		c.registry.Remove(s.ID)
		return nil, WrapError(ErrCodeStoreUnavailable, "initial checkpoint failed", err)
	}

	c.metrics.SessionRegistered(string(s.Type))
	c.persistRecord(ctx, s)
	c.notifyWorkers(ctx, s, map[string]any{
		"event":      "session_created",
		"session_id": s.ID,
		"type":       string(s.Type),
	})
	c.hooks.Invoke(ctx, HookCreate, s.Snapshot())

	c.logger.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("type", string(s.Type)),
		zap.Int("workers", len(s.Workers)),
	)
	return s, nil
}

// StartSession transitions the session to active, enables execution,
// and spawns its control loop.
func (c *Controller) StartSession(ctx context.Context, id string) error {
	s, err := c.registry.Get(id)
	if err != nil {
		return err
	}

	if err := c.transition(ctx, s, StatusActive, "start"); err != nil {
		return err
	}

	c.setWorkerStatus(s, WorkerWorking)
	c.ensureLoop(s)
	c.hooks.Invoke(ctx, HookStart, s.Snapshot())
	return nil
}

// PauseSession disables execution and forces a checkpoint.
func (c *Controller) PauseSession(ctx context.Context, id, reason string) error {
	s, err := c.registry.Get(id)
	if err != nil {
		return err
	}

	if err := c.transition(ctx, s, StatusPaused, reason); err != nil {
		return err
	}

	c.setWorkerStatus(s, WorkerPaused)
	if c.taskHooks.OnPause != nil {
		s.mu.Lock()
		task := s.TaskState
		s.mu.Unlock()
		if err := c.taskHooks.OnPause(ctx, id, task); err != nil {
			c.logger.Warn("pause task hook failed", zap.String("session_id", id), zap.Error(err))
		}
	}

	if _, err := c.CreateCheckpoint(ctx, id, "pause"); err != nil {
		c.logger.Warn("pause checkpoint failed", zap.String("session_id", id), zap.Error(err))
	}
	c.hooks.Invoke(ctx, HookPause, s.Snapshot())
	return nil
}

// ResumeSession reverses a pause (or a suspension).
func (c *Controller) ResumeSession(ctx context.Context, id string) error {
	s, err := c.registry.Get(id)
	if err != nil {
		return err
	}

	if err := c.transition(ctx, s, StatusActive, "resume"); err != nil {
		return err
	}

	c.setWorkerStatus(s, WorkerWorking)
	if c.taskHooks.OnResume != nil {
		s.mu.Lock()
		task := s.TaskState
		s.mu.Unlock()
		if err := c.taskHooks.OnResume(ctx, id, task); err != nil {
			c.logger.Warn("resume task hook failed", zap.String("session_id", id), zap.Error(err))
		}
	}

	// A session resumed out of suspension has no loop anymore.
	c.ensureLoop(s)
	c.hooks.Invoke(ctx, HookResume, s.Snapshot())
	return nil
}

// StopSession drives the session through closing to closed: disables
// execution, unwinds task state, awaits the control loop, finalizes
// metrics, forces a final checkpoint, and deregisters.
func (c *Controller) StopSession(ctx context.Context, id, reason string) error {
	s, err := c.registry.Get(id)
	if err != nil {
		return err
	}

	if err := c.transition(ctx, s, StatusClosing, reason); err != nil {
		return err
	}

	c.setWorkerStatus(s, WorkerStopped)

	if c.taskHooks.OnStop != nil {
		s.mu.Lock()
		task := s.TaskState
		s.mu.Unlock()
		final, err := c.taskHooks.OnStop(ctx, id, task)
		if err != nil {
			c.logger.Warn("stop task hook failed", zap.String("session_id", id), zap.Error(err))
		} else if final != nil {
			s.mu.Lock()
			s.TaskState = final
			s.mu.Unlock()
		}
	}

	c.stopLoop(id)

	s.mu.Lock()
	s.Metrics = computeMetricsLocked(s)
	s.mu.Unlock()

	if _, err := c.CreateCheckpoint(ctx, id, "final"); err != nil {
		c.logger.Warn("final checkpoint failed", zap.String("session_id", id), zap.Error(err))
	}

	if err := c.transition(ctx, s, StatusClosed, reason); err != nil {
		return err
	}

	snap := s.Snapshot()
	c.registry.Remove(id)
	c.metrics.SessionDeregistered(string(s.Type))
	if snap.Metrics != nil {
		c.metrics.ObserveSessionDuration(snap.Metrics.Duration)
	}
	c.persistRecord(ctx, s)
	c.hooks.Invoke(ctx, HookStop, snap)

	c.logger.Info("session stopped",
		zap.String("session_id", id),
		zap.String("reason", reason),
	)
	return nil
}

// SuspendSession forces a session out of execution without closing it.
// Used by the health monitor when recovery is not possible.
func (c *Controller) SuspendSession(ctx context.Context, id, reason string) error {
	s, err := c.registry.Get(id)
	if err != nil {
		return err
	}

	if err := c.transition(ctx, s, StatusSuspended, reason); err != nil {
		return err
	}

	c.setWorkerStatus(s, WorkerPaused)
	s.AppendEvent(NewEvent(CategoryError, SeverityWarning, "session_suspended", map[string]any{
		"reason": reason,
	}))
	return nil
}

// RecoverSession restores a session from its checkpoints, reattaching it
// first when it is not registered in this process. A non-empty
// checkpointID pins the primary candidate.
func (c *Controller) RecoverSession(ctx context.Context, id, checkpointID string) error {
	s, err := c.registry.Get(id)
	if err != nil {
		s, err = c.reattachSession(ctx, id)
		if err != nil {
			return err
		}
	}

	plan, err := c.planner.CreatePlan(ctx, s.Snapshot(), checkpointID)
	if err != nil {
		return err
	}

	if !c.planner.Execute(ctx, s, plan) {
		return NewError(ErrCodeNoRecoveryCandidate,
			fmt.Sprintf("all %d recovery candidates failed for session %s", len(plan.Candidates), id))
	}

	c.persistRecord(ctx, s)

	// A session that was active when it went down gets its loop back.
	if s.CurrentStatus() == StatusActive {
		c.ensureLoop(s)
	}
	return nil
}

// reattachSession loads a persisted session record into this process.
func (c *Controller) reattachSession(ctx context.Context, id string) (*Session, error) {
	data, err := c.store.LoadSessionRecord(ctx, id)
	if err != nil {
		return nil, ErrSessionNotFound(id)
	}

	s := &Session{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, WrapError(ErrCodeStoreUnavailable, "corrupt session record", err)
	}
	s.everActive = !s.StartedAt.IsZero()

	if err := c.registry.Add(s); err != nil {
		return nil, err
	}
	c.metrics.SessionRegistered(string(s.Type))

	s.AppendEvent(NewEvent(CategoryRecovery, SeverityInfo, "session_reattached", map[string]any{
		"status": string(s.CurrentStatus()),
	}))
	c.logger.Info("session reattached", zap.String("session_id", id))
	return s, nil
}

// GetSession returns a registered session.
func (c *Controller) GetSession(id string) (*Session, error) {
	return c.registry.Get(id)
}

// ListActiveSessions returns the sessions currently active.
func (c *Controller) ListActiveSessions() []*Session {
	return c.registry.ListActive()
}

// GetSessionMetrics computes the session's current metrics.
func (c *Controller) GetSessionMetrics(id string) (*Metrics, error) {
	s, err := c.registry.Get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return computeMetricsLocked(s), nil
}

// CreateCheckpoint captures and persists the session's restorable state,
// appends the checkpoint id, and archives the oldest excess beyond the
// configured cap. Ids stay listed for audit after archival.
func (c *Controller) CreateCheckpoint(ctx context.Context, id, reason string) (string, error) {
	s, err := c.registry.Get(id)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	st := captureStateLocked(s)
	s.mu.Unlock()

	data, err := EncodeCheckpointState(st)
	if err != nil {
		return "", err
	}
	cp := store.NewCheckpoint(s.ID, data)

	if err := c.store.Save(ctx, cp); err != nil {
		return "", WrapError(ErrCodeStoreUnavailable, "checkpoint save failed", err)
	}

	s.mu.Lock()
	s.CheckpointIDs = append(s.CheckpointIDs, cp.ID)
	s.lastCheckpointAt = time.Now()
	s.appendEventLocked(NewEvent(CategoryLifecycle, SeverityInfo, "checkpoint_created", map[string]any{
		"checkpoint_id": cp.ID,
		"reason":        reason,
	}))

	var excess []string
	if max := s.Options.MaxCheckpoints; max > 0 {
		live := len(s.CheckpointIDs) - s.ArchivedCount
		if live > max {
			excess = append(excess, s.CheckpointIDs[s.ArchivedCount:s.ArchivedCount+live-max]...)
			s.ArchivedCount += len(excess)
		}
	}
	s.mu.Unlock()

	if len(excess) > 0 {
		moved, aerr := c.store.Archive(ctx, excess)
		if aerr != nil {
			// Un-count the tail that stayed in the regular tiers; the
			// next trim retries it.
			s.mu.Lock()
			s.ArchivedCount -= len(excess) - moved
			s.mu.Unlock()
			c.logger.Warn("checkpoint archival incomplete",
				zap.String("session_id", id),
				zap.Int("archived", moved),
				zap.Error(aerr))
		}
		if moved > 0 {
			c.metrics.RecordArchived(moved)
		}
	}

	c.metrics.RecordCheckpoint(reason)
	c.persistRecord(ctx, s)

	c.logger.Debug("checkpoint created",
		zap.String("session_id", id),
		zap.String("checkpoint_id", cp.ID),
		zap.String("reason", reason),
	)
	return cp.ID, nil
}

// transition validates and performs a status transition. On failure the
// session is untouched and a TransitionError is returned.
func (c *Controller) transition(ctx context.Context, s *Session, to Status, trigger string) error {
	s.mu.Lock()
	from := s.Status
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return &TransitionError{SessionID: s.ID, From: from, To: to, Trigger: trigger}
	}

	now := time.Now()
	s.Status = to
	switch to {
	case StatusActive:
		if !s.everActive {
			s.StartedAt = now
			s.everActive = true
		}
	case StatusClosed:
		s.EndedAt = now
	}

	s.Transitions = append(s.Transitions, TransitionRecord{
		From:      from,
		To:        to,
		Trigger:   trigger,
		Timestamp: now,
		PreOK:     true,
		PostOK:    true,
	})
	s.appendEventLocked(NewEvent(CategoryLifecycle, SeverityInfo, "status_transition", map[string]any{
		"from":    string(from),
		"to":      string(to),
		"trigger": trigger,
	}))
	s.mu.Unlock()

	c.metrics.RecordTransition(string(from), string(to))
	c.logger.Info("status transition",
		zap.String("session_id", s.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("trigger", trigger),
	)

	c.persistRecord(ctx, s)
	c.notifyWorkers(ctx, s, map[string]any{
		"event":      "status_transition",
		"session_id": s.ID,
		"from":       string(from),
		"to":         string(to),
		"trigger":    trigger,
	})
	return nil
}

// markError converts a control-loop fault into the error status plus a
// critical event. Faults never propagate out of the loop boundary.
func (c *Controller) markError(ctx context.Context, s *Session, cause error) {
	if err := c.transition(ctx, s, StatusError, "fault"); err != nil {
		c.logger.Warn("fault transition rejected",
			zap.String("session_id", s.ID), zap.Error(err))
		return
	}

	ev := NewEvent(CategoryError, SeverityCritical, "control_loop_fault", map[string]any{
		"error": cause.Error(),
	})
	ev.ActionRequired = true
	s.AppendEvent(ev)

	c.persistRecord(ctx, s)
	c.hooks.Invoke(ctx, HookError, s.Snapshot())
}

// setWorkerStatus moves every worker sub-state to the given status.
func (c *Controller) setWorkerStatus(s *Session, status WorkerStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, w := range s.Workers {
		if w.Status != WorkerError {
			w.Status = status
			w.LastActiveAt = now
		}
	}
}

// persistRecord writes the session record through the store, best effort.
func (c *Controller) persistRecord(ctx context.Context, s *Session) {
	s.mu.Lock()
	data, err := json.Marshal(s)
	s.mu.Unlock()
	if err != nil {
		c.logger.Error("session record marshal failed",
			zap.String("session_id", s.ID), zap.Error(err))
		return
	}
	if err := c.store.SaveSessionRecord(ctx, s.ID, data); err != nil {
		c.logger.Warn("session record persist failed",
			zap.String("session_id", s.ID), zap.Error(err))
	}
}

// notifyWorkers fans a payload out to the session's workers, best effort.
func (c *Controller) notifyWorkers(ctx context.Context, s *Session, payload map[string]any) {
	if c.notifier == nil {
		return
	}
	s.mu.Lock()
	ids := append([]string(nil), s.Options.WorkerIDs...)
	s.mu.Unlock()
	if err := c.notifier.Notify(ctx, ids, payload); err != nil {
		c.logger.Warn("worker notification failed",
			zap.String("session_id", s.ID), zap.Error(err))
	}
}

// computeMetricsLocked aggregates the session metrics. Callers hold s.mu.
func computeMetricsLocked(s *Session) *Metrics {
	m := &Metrics{CheckpointCount: len(s.CheckpointIDs)}
	for _, w := range s.Workers {
		m.TotalActions += w.Actions
		m.TotalDecisions += w.Decisions
		m.TotalErrors += w.Errors
		m.RealizedLoss += w.ResourceUsage["realized_loss"]
	}
	if !s.StartedAt.IsZero() {
		end := s.EndedAt
		if end.IsZero() {
			end = time.Now()
		}
		m.Duration = end.Sub(s.StartedAt)
	}
	for _, ev := range s.Events {
		if ev.Category == CategoryRecovery && ev.Description == "recovery_succeeded" {
			m.RecoveryCount++
		}
	}
	return m
}
