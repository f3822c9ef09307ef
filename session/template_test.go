package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTemplateRegistryBuiltins(t *testing.T) {
	r := NewTemplateRegistry(zap.NewNop())

	for _, typ := range []Type{TypeStandard, TypeExtendedHours, TypeSimulated, TypeBacktest, TypeManualOverride} {
		tpl, err := r.ForType(typ)
		require.NoError(t, err, "type %s", typ)
		assert.Equal(t, typ, tpl.Type)
		assert.NoError(t, tpl.Options.Validate())
		assert.NoError(t, tpl.Risk.Validate())
	}
	assert.Len(t, r.List(), 5)
}

func TestTemplateRegistryTypeDifferences(t *testing.T) {
	r := NewTemplateRegistry(zap.NewNop())

	standard, err := r.ForType(TypeStandard)
	require.NoError(t, err)
	backtest, err := r.ForType(TypeBacktest)
	require.NoError(t, err)
	override, err := r.ForType(TypeManualOverride)
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), backtest.Options.MaxDuration, "backtests run unbounded")
	assert.Less(t, backtest.Options.LoopInterval, standard.Options.LoopInterval)
	assert.Zero(t, backtest.Risk.MaxLoss, "paper sessions have no loss auto-stop")
	assert.Less(t, override.Risk.MaxActionsPerWorker, standard.Risk.MaxActionsPerWorker)
}

func TestTemplateRegistryUnknown(t *testing.T) {
	r := NewTemplateRegistry(zap.NewNop())

	_, err := r.Get("nope")
	assert.Error(t, err)
}

func TestTemplateRegistryRegisterReplaces(t *testing.T) {
	r := NewTemplateRegistry(zap.NewNop())

	custom := Template{
		ID:   string(TypeStandard),
		Type: TypeStandard,
		Options: Options{
			WorkerIDs:          []string{"a", "b", "c"},
			LoopInterval:       time.Second,
			PausedLoopInterval: time.Second,
			CheckpointInterval: time.Minute,
			MaxCheckpoints:     5,
		},
		Risk: RiskLimits{MaxLoss: 50},
	}
	r.Register(custom)

	got, err := r.ForType(TypeStandard)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got.Options.WorkerIDs)
	assert.Equal(t, 50.0, got.Risk.MaxLoss)
	assert.Len(t, r.List(), 5)
}

func TestOptionsValidate(t *testing.T) {
	valid := Options{
		WorkerIDs:          []string{"w0"},
		LoopInterval:       time.Second,
		PausedLoopInterval: time.Second,
		CheckpointInterval: time.Minute,
		MaxCheckpoints:     10,
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"no workers", func(o *Options) { o.WorkerIDs = nil }},
		{"zero loop interval", func(o *Options) { o.LoopInterval = 0 }},
		{"zero paused interval", func(o *Options) { o.PausedLoopInterval = 0 }},
		{"zero checkpoint interval", func(o *Options) { o.CheckpointInterval = 0 }},
		{"zero max checkpoints", func(o *Options) { o.MaxCheckpoints = 0 }},
		{"negative max duration", func(o *Options) { o.MaxDuration = -time.Second }},
		{"negative idle timeout", func(o *Options) { o.IdleTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid
			tt.mutate(&o)
			err := o.Validate()
			assert.True(t, IsCode(err, ErrCodeInvalidConfig))
		})
	}
}

func TestRiskLimitsValidate(t *testing.T) {
	assert.NoError(t, RiskLimits{MaxLoss: 100, MaxExposure: 1000, MaxActionsPerWorker: 10}.Validate())
	assert.NoError(t, RiskLimits{}.Validate(), "zero budgets disable checks")

	err := RiskLimits{MaxLoss: -1}.Validate()
	assert.True(t, IsCode(err, ErrCodeInvalidConfig))
}
