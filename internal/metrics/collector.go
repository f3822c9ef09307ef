// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the prometheus instruments for the session core.
// A nil *Collector is valid and records nothing.
type Collector struct {
	// Session metrics
	sessionsActive   *prometheus.GaugeVec
	sessionDuration  prometheus.Histogram
	transitionsTotal *prometheus.CounterVec

	// Checkpoint metrics
	checkpointsTotal    *prometheus.CounterVec
	degradedWritesTotal prometheus.Counter
	archivedTotal       prometheus.Counter

	// Recovery metrics
	recoveryAttemptsTotal *prometheus.CounterVec

	// Sweep metrics
	sweepDuration *prometheus.HistogramVec
	autoStopTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector registered under the namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.sessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of registered sessions by type",
		},
		[]string{"type"},
	)

	c.sessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Session duration from start to close in seconds",
			Buckets:   prometheus.ExponentialBuckets(60, 2, 12),
		},
	)

	c.transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Total number of session status transitions",
		},
		[]string{"from", "to"},
	)

	c.checkpointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Total number of checkpoints created by reason",
		},
		[]string{"reason"},
	)

	c.degradedWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_writes_total",
			Help:      "Total number of writes that fell back to the emergency file",
		},
	)

	c.archivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_archived_total",
			Help:      "Total number of checkpoints moved to the archive tier",
		},
	)

	c.recoveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_attempts_total",
			Help:      "Total number of recovery attempts by outcome",
		},
		[]string{"outcome"},
	)

	c.sweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of background sweeps in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	c.autoStopTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_stops_total",
			Help:      "Total number of auto-stop triggers by condition",
		},
		[]string{"condition"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// SessionRegistered bumps the active gauge for the type.
func (c *Collector) SessionRegistered(sessionType string) {
	if c == nil {
		return
	}
	c.sessionsActive.WithLabelValues(sessionType).Inc()
}

// SessionDeregistered drops the active gauge for the type.
func (c *Collector) SessionDeregistered(sessionType string) {
	if c == nil {
		return
	}
	c.sessionsActive.WithLabelValues(sessionType).Dec()
}

// ObserveSessionDuration records a closed session's total duration.
func (c *Collector) ObserveSessionDuration(d time.Duration) {
	if c == nil {
		return
	}
	c.sessionDuration.Observe(d.Seconds())
}

// RecordTransition counts a status transition.
func (c *Collector) RecordTransition(from, to string) {
	if c == nil {
		return
	}
	c.transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordCheckpoint counts a checkpoint creation.
func (c *Collector) RecordCheckpoint(reason string) {
	if c == nil {
		return
	}
	c.checkpointsTotal.WithLabelValues(reason).Inc()
}

// RecordDegradedWrite counts an emergency-file fallback write.
func (c *Collector) RecordDegradedWrite() {
	if c == nil {
		return
	}
	c.degradedWritesTotal.Inc()
}

// RecordArchived counts checkpoints moved to the archive tier.
func (c *Collector) RecordArchived(n int) {
	if c == nil {
		return
	}
	c.archivedTotal.Add(float64(n))
}

// RecordRecovery counts a recovery attempt outcome ("restored",
// "fallback", "exhausted").
func (c *Collector) RecordRecovery(outcome string) {
	if c == nil {
		return
	}
	c.recoveryAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSweep records one background sweep's duration.
func (c *Collector) ObserveSweep(sweep string, d time.Duration) {
	if c == nil {
		return
	}
	c.sweepDuration.WithLabelValues(sweep).Observe(d.Seconds())
}

// RecordAutoStop counts an auto-stop condition firing.
func (c *Collector) RecordAutoStop(condition string) {
	if c == nil {
		return
	}
	c.autoStopTotal.WithLabelValues(condition).Inc()
}
