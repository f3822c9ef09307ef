package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// controlLoop is the one long-lived task a session owns while active or
// paused. It cooperates: it checks status before every blocking step and
// exits as soon as the status leaves {active, paused}.
type controlLoop struct {
	sessionID  string
	controller *Controller
	stopChan   chan struct{}
	doneChan   chan struct{}
	stopOnce   sync.Once
}

// ensureLoop spawns the session's control loop if it is not running.
func (c *Controller) ensureLoop(s *Session) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if _, running := c.loops[s.ID]; running {
		return
	}

	loop := &controlLoop{
		sessionID:  s.ID,
		controller: c,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
	c.loops[s.ID] = loop
	go loop.run()

	c.logger.Debug("control loop spawned", zap.String("session_id", s.ID))
}

// stopLoop cancels the session's loop and awaits its completion.
func (c *Controller) stopLoop(id string) {
	c.loopMu.Lock()
	loop, ok := c.loops[id]
	c.loopMu.Unlock()
	if !ok {
		return
	}

	loop.stopOnce.Do(func() { close(loop.stopChan) })

	select {
	case <-loop.doneChan:
	case <-time.After(5 * time.Second):
		c.logger.Warn("control loop did not stop in time", zap.String("session_id", id))
	}
}

// removeLoop drops the loop handle once its goroutine exits.
func (c *Controller) removeLoop(id string, loop *controlLoop) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.loops[id] == loop {
		delete(c.loops, id)
	}
}

// loopRunning reports whether the session has a live control loop.
func (c *Controller) loopRunning(id string) bool {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	_, ok := c.loops[id]
	return ok
}

func (l *controlLoop) run() {
	c := l.controller
	defer close(l.doneChan)
	defer c.removeLoop(l.sessionID, l)

	ctx := context.Background()
	logger := c.logger.With(zap.String("session_id", l.sessionID))
	logger.Debug("control loop started")

	for {
		s, err := c.registry.Get(l.sessionID)
		if err != nil {
			logger.Debug("control loop exiting, session deregistered")
			return
		}

		status := s.CurrentStatus()
		if status != StatusActive && status != StatusPaused {
			logger.Debug("control loop exiting", zap.String("status", string(status)))
			return
		}

		if status == StatusActive {
			if err := l.iterate(ctx, s); err != nil {
				logger.Error("control loop fault", zap.Error(err))
				c.markError(ctx, s, err)
				return
			}
		}

		interval := s.Options.LoopInterval
		if status == StatusPaused {
			interval = s.Options.PausedLoopInterval
		}

		select {
		case <-l.stopChan:
			logger.Debug("control loop stopped")
			return
		case <-time.After(interval):
		}
	}
}

// iterate performs one active-status pass: refresh the environment,
// evaluate auto-stop predicates, update metrics, and persist a routine
// checkpoint when due. Panics are converted to errors at this boundary.
func (l *controlLoop) iterate(ctx context.Context, s *Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = WrapError(ErrCodeControlLoopFault,
				fmt.Sprintf("panic in control loop for session %s", s.ID),
				fmt.Errorf("%v", r))
		}
	}()

	c := l.controller

	env, envErr := c.env.GetCurrentEnvironmentState(ctx)
	if envErr != nil {
		c.logger.Warn("environment refresh failed",
			zap.String("session_id", s.ID), zap.Error(envErr))
	} else {
		s.mu.Lock()
		s.Environment = env
		s.mu.Unlock()
	}

	snap := s.Snapshot()
	for _, cond := range c.autoStopConditions() {
		stop, reason := cond.Evaluate(snap, env)
		if !stop {
			continue
		}
		c.metrics.RecordAutoStop(cond.Name())
		c.logger.Info("auto-stop condition met",
			zap.String("session_id", s.ID),
			zap.String("condition", cond.Name()),
			zap.String("reason", reason),
		)
		// Stop asynchronously: StopSession awaits this loop's exit.
		go func() {
			if err := c.StopSession(context.Background(), s.ID, reason); err != nil {
				c.logger.Warn("auto-stop failed",
					zap.String("session_id", s.ID), zap.Error(err))
			}
		}()
		return nil
	}

	s.mu.Lock()
	s.Metrics = computeMetricsLocked(s)
	due := time.Since(s.lastCheckpointAt) >= s.Options.CheckpointInterval
	s.mu.Unlock()

	if due {
		if _, cpErr := c.CreateCheckpoint(ctx, s.ID, "routine"); cpErr != nil {
			// Degraded persistence is the store's concern; the loop only
			// surfaces it and keeps running.
			c.logger.Warn("routine checkpoint failed",
				zap.String("session_id", s.ID), zap.Error(cpErr))
		}
	}
	return nil
}
