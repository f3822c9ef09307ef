package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEnvironmentProvider(t *testing.T) {
	p := NewStaticEnvironmentProvider()

	st, err := p.GetCurrentEnvironmentState(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Open)

	p.Set(EnvironmentState{Open: false, Indicators: map[string]float64{"vix": 30}})
	st, err = p.GetCurrentEnvironmentState(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Open)
	assert.Equal(t, 30.0, st.Indicators["vix"])
}

func snapWithLoss(loss float64, maxLoss float64) Snapshot {
	return Snapshot{
		Type: TypeStandard,
		Risk: RiskLimits{MaxLoss: maxLoss},
		Workers: map[string]WorkerState{
			"w0": {WorkerID: "w0", ResourceUsage: map[string]float64{"realized_loss": loss}},
		},
	}
}

func TestMaxLossCondition(t *testing.T) {
	cond := MaxLossCondition{}

	stop, reason := cond.Evaluate(snapWithLoss(999, 1000), nil)
	assert.False(t, stop)
	assert.Empty(t, reason)

	stop, reason = cond.Evaluate(snapWithLoss(1000, 1000), nil)
	assert.True(t, stop)
	assert.Equal(t, "max_loss_breached", reason)

	// A zero budget disables the check entirely.
	stop, _ = cond.Evaluate(snapWithLoss(1e9, 0), nil)
	assert.False(t, stop)
}

func TestMaxLossConditionSumsWorkers(t *testing.T) {
	snap := Snapshot{
		Risk: RiskLimits{MaxLoss: 100},
		Workers: map[string]WorkerState{
			"w0": {ResourceUsage: map[string]float64{"realized_loss": 60}},
			"w1": {ResourceUsage: map[string]float64{"realized_loss": 60}},
		},
	}
	stop, _ := MaxLossCondition{}.Evaluate(snap, nil)
	assert.True(t, stop)
}

func TestEnvironmentClosedCondition(t *testing.T) {
	cond := EnvironmentClosedCondition{}
	closed := &EnvironmentState{Open: false}
	open := &EnvironmentState{Open: true}

	stop, reason := cond.Evaluate(Snapshot{Type: TypeStandard}, closed)
	assert.True(t, stop)
	assert.Equal(t, "environment_closed", reason)

	stop, _ = cond.Evaluate(Snapshot{Type: TypeStandard}, open)
	assert.False(t, stop)

	stop, _ = cond.Evaluate(Snapshot{Type: TypeStandard}, nil)
	assert.False(t, stop)

	// Synthetic environments are exempt.
	for _, typ := range []Type{TypeSimulated, TypeBacktest} {
		stop, _ = cond.Evaluate(Snapshot{Type: typ}, closed)
		assert.False(t, stop, "type %s", typ)
	}
}

func TestMaxActionsCondition(t *testing.T) {
	cond := MaxActionsCondition{}
	snap := Snapshot{
		Risk: RiskLimits{MaxActionsPerWorker: 10},
		Workers: map[string]WorkerState{
			"w0": {Actions: 10},
			"w1": {Actions: 3},
		},
	}

	stop, _ := cond.Evaluate(snap, nil)
	assert.False(t, stop, "budget is a ceiling, not a trip at equality")

	snap.Workers["w0"] = WorkerState{Actions: 11}
	stop, reason := cond.Evaluate(snap, nil)
	assert.True(t, stop)
	assert.Equal(t, "max_actions_exceeded", reason)

	snap.Risk.MaxActionsPerWorker = 0
	stop, _ = cond.Evaluate(snap, nil)
	assert.False(t, stop)
}

func TestDefaultAutoStopConditions(t *testing.T) {
	conds := DefaultAutoStopConditions()
	require.Len(t, conds, 3)

	names := make(map[string]struct{})
	for _, c := range conds {
		names[c.Name()] = struct{}{}
	}
	assert.Contains(t, names, "max_loss")
	assert.Contains(t, names, "environment_closed")
	assert.Contains(t, names, "max_actions")
}
