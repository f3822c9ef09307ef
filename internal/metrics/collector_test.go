package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var namespaceSeq int

// testNamespace returns a unique namespace per collector; promauto
// registers against the default registry, which rejects duplicates.
func testNamespace() string {
	namespaceSeq++
	return fmt.Sprintf("tradeflow_test_%d", namespaceSeq)
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	c.SessionRegistered("standard")
	c.SessionDeregistered("standard")
	c.ObserveSessionDuration(time.Minute)
	c.RecordTransition("active", "paused")
	c.RecordCheckpoint("routine")
	c.RecordDegradedWrite()
	c.RecordArchived(3)
	c.RecordRecovery("restored")
	c.ObserveSweep("health", time.Millisecond)
	c.RecordAutoStop("max_loss")
}

func TestSessionGauge(t *testing.T) {
	c := NewCollector(testNamespace(), zap.NewNop())

	c.SessionRegistered("standard")
	c.SessionRegistered("standard")
	c.SessionRegistered("backtest")
	c.SessionDeregistered("standard")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsActive.WithLabelValues("standard")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsActive.WithLabelValues("backtest")))
}

func TestCounters(t *testing.T) {
	c := NewCollector(testNamespace(), zap.NewNop())

	c.RecordTransition("initializing", "active")
	c.RecordTransition("initializing", "active")
	c.RecordCheckpoint("routine")
	c.RecordCheckpoint("final")
	c.RecordDegradedWrite()
	c.RecordArchived(4)
	c.RecordRecovery("fallback")
	c.RecordAutoStop("environment_closed")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.transitionsTotal.WithLabelValues("initializing", "active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.checkpointsTotal.WithLabelValues("routine")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.degradedWritesTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.archivedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recoveryAttemptsTotal.WithLabelValues("fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.autoStopTotal.WithLabelValues("environment_closed")))
}

func TestHistogramsObserve(t *testing.T) {
	ns := testNamespace()
	c := NewCollector(ns, zap.NewNop())

	c.ObserveSessionDuration(2 * time.Minute)
	c.ObserveSweep("health", 5*time.Millisecond)
	c.ObserveSweep("checkpoint", time.Millisecond)

	// One series for the duration histogram, one per sweep label.
	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer,
		ns+"_session_duration_seconds", ns+"_sweep_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 3, count)
}
