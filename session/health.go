package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tradeflow-io/tradeflow/internal/metrics"
)

// HealthConfig configures the health monitor sweep.
type HealthConfig struct {
	// SweepInterval is how often every registered session is inspected.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`

	// MaxErrorRatio is the worker error-ratio threshold; strictly
	// exceeding it marks the session unhealthy.
	MaxErrorRatio float64 `yaml:"max_error_ratio" json:"max_error_ratio"`
}

// DefaultHealthConfig returns the default health monitor configuration.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		SweepInterval: 30 * time.Second,
		MaxErrorRatio: 0.5,
	}
}

// HealthMonitor periodically inspects every registered session and, on
// staleness, error pile-up, or broken invariants, triggers recovery or
// forces suspension. Max session duration and the idle timeout are
// enforced here, not in the control loop, keeping the loop simple and
// restartable.
type HealthMonitor struct {
	controller *Controller
	cfg        HealthConfig
	metrics    *metrics.Collector
	logger     *zap.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHealthMonitor creates a health monitor over the controller's registry.
func NewHealthMonitor(controller *Controller, cfg HealthConfig, collector *metrics.Collector, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		controller: controller,
		cfg:        cfg,
		metrics:    collector,
		logger:     logger.With(zap.String("component", "health_monitor")),
	}
}

// Start launches the sweep loop.
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("health monitor already running")
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.doneChan = make(chan struct{})
	m.mu.Unlock()

	go m.sweepLoop(ctx)
	m.logger.Info("health monitor started",
		zap.Duration("sweep_interval", m.cfg.SweepInterval))
	return nil
}

// Stop halts the sweep loop and awaits its completion.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	done := m.doneChan
	m.mu.Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		m.logger.Warn("health sweep loop did not stop in time")
	}
}

func (m *HealthMonitor) sweepLoop(ctx context.Context) {
	defer close(m.doneChan)

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep inspects every registered session once.
func (m *HealthMonitor) Sweep(ctx context.Context) {
	start := time.Now()
	defer func() {
		m.metrics.ObserveSweep("health", time.Since(start))
	}()

	for _, s := range m.controller.Registry().List() {
		m.checkSession(ctx, s)
	}
}

func (m *HealthMonitor) checkSession(ctx context.Context, s *Session) {
	snap := s.Snapshot()

	switch snap.Status {
	case StatusClosing, StatusClosed:
		return
	}

	// Elapsed-duration ceiling: active-or-recoverable sessions past it
	// are stopped with a timeout trigger.
	if snap.Options.MaxDuration > 0 && !snap.StartedAt.IsZero() &&
		time.Since(snap.StartedAt) > snap.Options.MaxDuration {
		m.logger.Warn("session exceeded max duration, stopping",
			zap.String("session_id", snap.ID),
			zap.Duration("max_duration", snap.Options.MaxDuration),
		)
		if err := m.controller.StopSession(ctx, snap.ID, "timeout"); err != nil {
			m.logger.Error("timeout stop failed",
				zap.String("session_id", snap.ID), zap.Error(err))
		}
		return
	}

	// Idle timeout: sessions left paused or suspended past it are
	// stopped rather than resumed. Measured from the last transition.
	if snap.Options.IdleTimeout > 0 &&
		(snap.Status == StatusPaused || snap.Status == StatusSuspended) {
		idleSince := snap.LastTransitionAt
		if idleSince.IsZero() {
			idleSince = snap.CreatedAt
		}
		if time.Since(idleSince) > snap.Options.IdleTimeout {
			m.logger.Warn("session idle past timeout, stopping",
				zap.String("session_id", snap.ID),
				zap.Duration("idle_timeout", snap.Options.IdleTimeout),
			)
			if err := m.controller.StopSession(ctx, snap.ID, "idle_timeout"); err != nil {
				m.logger.Error("idle stop failed",
					zap.String("session_id", snap.ID), zap.Error(err))
			}
			return
		}
	}

	reasons := m.unhealthyReasons(snap)
	if len(reasons) == 0 {
		m.logger.Debug("session healthy", zap.String("session_id", snap.ID))
		return
	}

	s.AppendEvent(NewEvent(CategoryError, SeverityWarning, "session_unhealthy", map[string]any{
		"reasons": reasons,
	}))
	m.logger.Warn("session unhealthy",
		zap.String("session_id", snap.ID),
		zap.Strings("reasons", reasons),
	)

	// Recover from the last checkpoint when one exists, else suspend.
	if len(snap.CheckpointIDs) > 0 {
		if err := m.controller.RecoverSession(ctx, snap.ID, ""); err == nil {
			return
		} else {
			m.logger.Error("health recovery failed, suspending",
				zap.String("session_id", snap.ID), zap.Error(err))
		}
	}

	if err := m.controller.SuspendSession(ctx, snap.ID, "unhealthy"); err != nil {
		m.logger.Error("forced suspension failed",
			zap.String("session_id", snap.ID), zap.Error(err))
	}
}

// unhealthyReasons runs the per-session invariant checks.
func (m *HealthMonitor) unhealthyReasons(snap Snapshot) []string {
	var reasons []string

	if ratio := snap.WorkerErrorRatio(); ratio > m.cfg.MaxErrorRatio {
		reasons = append(reasons, fmt.Sprintf("worker error ratio %.2f exceeds %.2f", ratio, m.cfg.MaxErrorRatio))
	}

	if _, known := validTransitions[snap.Status]; !known && snap.Status != StatusClosed {
		reasons = append(reasons, fmt.Sprintf("unknown status %q", snap.Status))
	}

	if snap.Status == StatusActive && !m.controller.loopRunning(snap.ID) {
		reasons = append(reasons, "active session has no control loop")
	}

	if snap.Risk.MaxLoss < 0 || snap.Risk.MaxExposure < 0 || snap.Risk.MaxActionsPerWorker < 0 {
		reasons = append(reasons, "negative risk budget")
	}

	if snap.EverActive && len(snap.CheckpointIDs) == 0 {
		reasons = append(reasons, "no checkpoints for a session that has been active")
	}

	// An active session whose checkpoints have gone stale means the
	// scheduler and loop both stopped persisting it.
	if snap.Status == StatusActive && !snap.LastCheckpointAt.IsZero() &&
		snap.Options.CheckpointInterval > 0 &&
		time.Since(snap.LastCheckpointAt) > 3*snap.Options.CheckpointInterval {
		reasons = append(reasons, "checkpoints stale")
	}

	return reasons
}
