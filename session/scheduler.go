package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tradeflow-io/tradeflow/internal/metrics"
)

// SchedulerConfig configures the checkpoint scheduler sweep.
type SchedulerConfig struct {
	// SweepInterval is how often active sessions are checked for a due
	// checkpoint.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{SweepInterval: 15 * time.Second}
}

// CheckpointScheduler periodically creates checkpoints for active
// sessions whose checkpoint interval has elapsed. It backstops the
// control loop's routine checkpoints: a stalled or slow loop never
// leaves a session minutes behind durable state.
type CheckpointScheduler struct {
	controller *Controller
	cfg        SchedulerConfig
	metrics    *metrics.Collector
	logger     *zap.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewCheckpointScheduler creates a scheduler over the controller's registry.
func NewCheckpointScheduler(controller *Controller, cfg SchedulerConfig, collector *metrics.Collector, logger *zap.Logger) *CheckpointScheduler {
	return &CheckpointScheduler{
		controller: controller,
		cfg:        cfg,
		metrics:    collector,
		logger:     logger.With(zap.String("component", "checkpoint_scheduler")),
	}
}

// Start launches the sweep loop.
func (cs *CheckpointScheduler) Start(ctx context.Context) error {
	cs.mu.Lock()
	if cs.running {
		cs.mu.Unlock()
		return fmt.Errorf("checkpoint scheduler already running")
	}
	cs.running = true
	cs.stopChan = make(chan struct{})
	cs.doneChan = make(chan struct{})
	cs.mu.Unlock()

	go cs.sweepLoop(ctx)
	cs.logger.Info("checkpoint scheduler started",
		zap.Duration("sweep_interval", cs.cfg.SweepInterval))
	return nil
}

// Stop halts the sweep loop and awaits its completion.
func (cs *CheckpointScheduler) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	close(cs.stopChan)
	done := cs.doneChan
	cs.mu.Unlock()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		cs.logger.Warn("scheduler sweep loop did not stop in time")
	}
}

func (cs *CheckpointScheduler) sweepLoop(ctx context.Context) {
	defer close(cs.doneChan)

	ticker := time.NewTicker(cs.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			cs.Sweep(ctx)
		}
	}
}

// Sweep checkpoints every active session whose interval has elapsed.
func (cs *CheckpointScheduler) Sweep(ctx context.Context) {
	start := time.Now()
	defer func() {
		cs.metrics.ObserveSweep("checkpoint", time.Since(start))
	}()

	for _, s := range cs.controller.Registry().ListActive() {
		snap := s.Snapshot()
		if time.Since(snap.LastCheckpointAt) < snap.Options.CheckpointInterval {
			continue
		}
		if _, err := cs.controller.CreateCheckpoint(ctx, snap.ID, "scheduled"); err != nil {
			cs.logger.Warn("scheduled checkpoint failed",
				zap.String("session_id", snap.ID), zap.Error(err))
		}
	}
}
