package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/tradeflow-io/tradeflow/internal/metrics"
	"github.com/tradeflow-io/tradeflow/store"
)

// RiskLevel grades a recovery plan's risk assessment.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RecoveryPlan is the ephemeral, ordered attempt sequence over
// checkpoint candidates. It is never persisted; only a summarizing
// session event survives execution.
type RecoveryPlan struct {
	SessionID       string
	Candidates      []string // most recent first
	Steps           []string
	DataLossRisk    RiskLevel
	ConsistencyRisk RiskLevel
	Confidence      float64
}

// RecoveryPlanner builds and executes recovery plans over the
// checkpoint store.
type RecoveryPlanner struct {
	store      store.Store
	candidates int
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// NewRecoveryPlanner creates a planner considering the given number of
// recent checkpoints per plan.
func NewRecoveryPlanner(st store.Store, candidates int, collector *metrics.Collector, logger *zap.Logger) *RecoveryPlanner {
	if candidates <= 0 {
		candidates = 5
	}
	return &RecoveryPlanner{
		store:      st,
		candidates: candidates,
		metrics:    collector,
		logger:     logger.With(zap.String("component", "recovery_planner")),
	}
}

// CreatePlan selects the most recent candidates (most recent first) and
// scores the plan. A non-empty preferredID is pinned as the primary. The
// confidence banding is a tunable heuristic, not a contract: 0.9 when
// the primary verifies, 0.6 when some fallback does, 0.3 otherwise.
func (p *RecoveryPlanner) CreatePlan(ctx context.Context, snap Snapshot, preferredID string) (*RecoveryPlan, error) {
	ids := snap.CheckpointIDs
	if len(ids) == 0 {
		return nil, ErrNoRecoveryCandidate(snap.ID)
	}

	n := p.candidates
	if n > len(ids) {
		n = len(ids)
	}
	candidates := make([]string, 0, n)
	for i := len(ids) - 1; i >= len(ids)-n; i-- {
		candidates = append(candidates, ids[i])
	}

	if preferredID != "" {
		reordered := []string{preferredID}
		for _, id := range candidates {
			if id != preferredID {
				reordered = append(reordered, id)
			}
		}
		candidates = reordered
	}

	verified := 0
	primaryVerified := false
	for i, id := range candidates {
		cp, err := p.store.Load(ctx, id)
		if err != nil || !cp.Verified || !cp.VerifyChecksum() {
			continue
		}
		verified++
		if i == 0 {
			primaryVerified = true
		}
	}

	dataLoss := RiskMedium
	if verified > 1 {
		dataLoss = RiskLow
	}
	consistency := RiskLow
	if !primaryVerified {
		consistency = RiskMedium
	}
	confidence := 0.3
	switch {
	case primaryVerified:
		confidence = 0.9
	case verified > 0:
		confidence = 0.6
	}

	plan := &RecoveryPlan{
		SessionID:       snap.ID,
		Candidates:      candidates,
		DataLossRisk:    dataLoss,
		ConsistencyRisk: consistency,
		Confidence:      confidence,
		Steps: []string{
			"load candidate checkpoint",
			"verify checksum",
			"restore worker, environment, and task state",
			"append recovery event",
			"persist restored state",
		},
	}

	p.logger.Info("recovery plan created",
		zap.String("session_id", snap.ID),
		zap.Int("candidates", len(candidates)),
		zap.Int("verified", verified),
		zap.Float64("confidence", confidence),
	)
	return plan, nil
}

// Execute restores the session from the plan's primary candidate,
// advancing to the next fallback on checksum mismatch, missing
// checkpoint, or restore failure. It returns false only once every
// candidate has failed.
func (p *RecoveryPlanner) Execute(ctx context.Context, s *Session, plan *RecoveryPlan) bool {
	for i, id := range plan.Candidates {
		cp, err := p.store.Load(ctx, id)
		if err != nil {
			p.fallback(s, id, i, "checkpoint unreadable: "+err.Error())
			continue
		}
		if !cp.Verified || !cp.VerifyChecksum() {
			p.fallback(s, id, i, NewError(ErrCodeChecksumMismatch, "checkpoint "+id+" failed verification").Error())
			continue
		}

		st, err := DecodeCheckpointState(cp.State)
		if err != nil {
			p.fallback(s, id, i, "state undecodable: "+err.Error())
			continue
		}

		s.mu.Lock()
		applyStateLocked(s, st)
		if s.Recovery == nil {
			s.Recovery = &RecoveryInfo{}
		}
		s.Recovery.RecoveredAt = cp.CreatedAt
		s.Recovery.CheckpointID = cp.ID
		s.Recovery.Attempts += i + 1
		s.appendEventLocked(NewEvent(CategoryRecovery, SeverityInfo, "recovery_succeeded", map[string]any{
			"checkpoint_id": cp.ID,
			"fallback":      i > 0,
			"attempt":       i + 1,
			"confidence":    plan.Confidence,
		}))
		s.mu.Unlock()

		p.metrics.RecordRecovery("restored")
		p.logger.Info("session recovered",
			zap.String("session_id", s.ID),
			zap.String("checkpoint_id", cp.ID),
			zap.Int("attempt", i+1),
		)
		return true
	}

	ev := NewEvent(CategoryRecovery, SeverityCritical, "recovery_failed", map[string]any{
		"candidates": len(plan.Candidates),
	})
	ev.ActionRequired = true
	s.AppendEvent(ev)

	p.metrics.RecordRecovery("exhausted")
	p.logger.Error("recovery exhausted all candidates",
		zap.String("session_id", s.ID),
		zap.Int("candidates", len(plan.Candidates)),
	)
	return false
}

// fallback records one failed candidate attempt.
func (p *RecoveryPlanner) fallback(s *Session, checkpointID string, attempt int, reason string) {
	s.AppendEvent(NewEvent(CategoryRecovery, SeverityWarning, "recovery_fallback", map[string]any{
		"checkpoint_id": checkpointID,
		"attempt":       attempt + 1,
		"reason":        reason,
	}))
	p.metrics.RecordRecovery("fallback")
	p.logger.Warn("recovery candidate failed, advancing",
		zap.String("session_id", s.ID),
		zap.String("checkpoint_id", checkpointID),
		zap.String("reason", reason),
	)
}
