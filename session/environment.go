package session

import (
	"context"
	"sync"
	"time"
)

// EnvironmentProvider supplies snapshots of the external execution
// environment. Polled once per control-loop iteration.
type EnvironmentProvider interface {
	GetCurrentEnvironmentState(ctx context.Context) (*EnvironmentState, error)
}

// StaticEnvironmentProvider serves a fixed, settable state. Used for
// simulated sessions, backtests, and tests.
type StaticEnvironmentProvider struct {
	mu    sync.RWMutex
	state EnvironmentState
}

// NewStaticEnvironmentProvider creates a provider with an open environment.
func NewStaticEnvironmentProvider() *StaticEnvironmentProvider {
	return &StaticEnvironmentProvider{
		state: EnvironmentState{Open: true, Timestamp: time.Now()},
	}
}

// Set replaces the served state.
func (p *StaticEnvironmentProvider) Set(state EnvironmentState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

// GetCurrentEnvironmentState returns a copy of the current state.
func (p *StaticEnvironmentProvider) GetCurrentEnvironmentState(ctx context.Context) (*EnvironmentState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := p.state
	st.Timestamp = time.Now()
	return &st, nil
}

// AutoStopCondition is a predicate evaluated per control-loop iteration
// that can force a session stop.
type AutoStopCondition interface {
	// Name identifies the condition in events and metrics.
	Name() string

	// Evaluate reports whether the session must stop, with a reason.
	Evaluate(snap Snapshot, env *EnvironmentState) (bool, string)
}

// realizedLoss sums the per-worker realized-loss gauges.
func realizedLoss(snap Snapshot) float64 {
	total := 0.0
	for _, w := range snap.Workers {
		total += w.ResourceUsage["realized_loss"]
	}
	return total
}

// MaxLossCondition stops a session whose realized loss breaches its
// risk limit. A zero MaxLoss disables the check.
type MaxLossCondition struct{}

// Name implements AutoStopCondition.
func (MaxLossCondition) Name() string { return "max_loss" }

// Evaluate implements AutoStopCondition.
func (MaxLossCondition) Evaluate(snap Snapshot, _ *EnvironmentState) (bool, string) {
	if snap.Risk.MaxLoss <= 0 {
		return false, ""
	}
	if realizedLoss(snap) >= snap.Risk.MaxLoss {
		return true, "max_loss_breached"
	}
	return false, ""
}

// EnvironmentClosedCondition stops live sessions once the external
// environment reports closed. Simulated and backtest sessions run
// against synthetic environments and are exempt.
type EnvironmentClosedCondition struct{}

// Name implements AutoStopCondition.
func (EnvironmentClosedCondition) Name() string { return "environment_closed" }

// Evaluate implements AutoStopCondition.
func (EnvironmentClosedCondition) Evaluate(snap Snapshot, env *EnvironmentState) (bool, string) {
	if snap.Type == TypeSimulated || snap.Type == TypeBacktest {
		return false, ""
	}
	if env != nil && !env.Open {
		return true, "environment_closed"
	}
	return false, ""
}

// MaxActionsCondition stops a session when any worker exceeds its
// action budget. A zero budget disables the check.
type MaxActionsCondition struct{}

// Name implements AutoStopCondition.
func (MaxActionsCondition) Name() string { return "max_actions" }

// Evaluate implements AutoStopCondition.
func (MaxActionsCondition) Evaluate(snap Snapshot, _ *EnvironmentState) (bool, string) {
	if snap.Risk.MaxActionsPerWorker <= 0 {
		return false, ""
	}
	for _, w := range snap.Workers {
		if w.Actions > snap.Risk.MaxActionsPerWorker {
			return true, "max_actions_exceeded"
		}
	}
	return false, ""
}

// DefaultAutoStopConditions returns the built-in condition set.
func DefaultAutoStopConditions() []AutoStopCondition {
	return []AutoStopCondition{
		MaxLossCondition{},
		EnvironmentClosedCondition{},
		MaxActionsCondition{},
	}
}
