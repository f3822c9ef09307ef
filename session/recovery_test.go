package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradeflow-io/tradeflow/store"
)

func newPlannerFixture(t *testing.T, candidates int) (*RecoveryPlanner, *store.MemoryTier) {
	t.Helper()
	tier := store.NewMemoryTier("mem")
	st := store.NewTieredStore([]store.Tier{tier}, nil, nil, zap.NewNop())
	return NewRecoveryPlanner(st, candidates, nil, zap.NewNop()), tier
}

// seedCheckpoints persists n checkpoints for the session and returns
// their ids in creation order.
func seedCheckpoints(t *testing.T, tier *store.MemoryTier, s *Session, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s.mu.Lock()
		s.Workers["w0"].Actions = int64(i)
		state := captureStateLocked(s)
		s.mu.Unlock()

		data, err := EncodeCheckpointState(state)
		require.NoError(t, err)
		cp := store.NewCheckpoint(s.ID, data)
		require.NoError(t, tier.SaveCheckpoint(ctx, cp))

		s.mu.Lock()
		s.CheckpointIDs = append(s.CheckpointIDs, cp.ID)
		s.mu.Unlock()
		ids = append(ids, cp.ID)
	}
	return ids
}

func plannerSession() *Session {
	return &Session{
		ID:     "sess_1",
		Status: StatusActive,
		Workers: map[string]*WorkerState{
			"w0": {WorkerID: "w0", Status: WorkerWorking},
		},
	}
}

func TestCreatePlanNoCandidates(t *testing.T) {
	p, _ := newPlannerFixture(t, 5)

	_, err := p.CreatePlan(context.Background(), Snapshot{ID: "sess_1"}, "")
	assert.True(t, IsCode(err, ErrCodeNoRecoveryCandidate))
}

func TestCreatePlanOrdersMostRecentFirst(t *testing.T) {
	p, tier := newPlannerFixture(t, 3)
	s := plannerSession()
	ids := seedCheckpoints(t, tier, s, 5)

	plan, err := p.CreatePlan(context.Background(), s.Snapshot(), "")
	require.NoError(t, err)

	// Only the 3 most recent, newest first.
	assert.Equal(t, []string{ids[4], ids[3], ids[2]}, plan.Candidates)
	assert.Equal(t, 0.9, plan.Confidence, "primary verifies")
	assert.Equal(t, RiskLow, plan.DataLossRisk)
}

func TestCreatePlanPinsPreferredCandidate(t *testing.T) {
	p, tier := newPlannerFixture(t, 3)
	s := plannerSession()
	ids := seedCheckpoints(t, tier, s, 3)

	plan, err := p.CreatePlan(context.Background(), s.Snapshot(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, ids[0], plan.Candidates[0])
	assert.Len(t, plan.Candidates, 3)
}

func TestCreatePlanDowngradesConfidenceOnCorruptPrimary(t *testing.T) {
	p, tier := newPlannerFixture(t, 3)
	s := plannerSession()
	ids := seedCheckpoints(t, tier, s, 3)

	corruptCheckpoint(t, tier, ids[2])

	plan, err := p.CreatePlan(context.Background(), s.Snapshot(), "")
	require.NoError(t, err)
	assert.Equal(t, 0.6, plan.Confidence)
	assert.Equal(t, RiskMedium, plan.ConsistencyRisk)
}

func corruptCheckpoint(t *testing.T, tier *store.MemoryTier, id string) {
	t.Helper()
	ctx := context.Background()
	cp, err := tier.LoadCheckpoint(ctx, id)
	require.NoError(t, err)
	cp.State = append(cp.State, ' ')
	require.NoError(t, tier.SaveCheckpoint(ctx, cp))
}

func TestExecuteRestoresPrimary(t *testing.T) {
	p, tier := newPlannerFixture(t, 5)
	s := plannerSession()
	seedCheckpoints(t, tier, s, 3) // last capture has Actions == 2

	s.mu.Lock()
	s.Workers["w0"].Actions = 99
	s.mu.Unlock()

	plan, err := p.CreatePlan(context.Background(), s.Snapshot(), "")
	require.NoError(t, err)
	require.True(t, p.Execute(context.Background(), s, plan))

	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap.Workers["w0"].Actions)
	assert.Equal(t, 0, countEvents(s, "recovery_fallback"))
}

func TestExecuteWalksFallbackChain(t *testing.T) {
	p, tier := newPlannerFixture(t, 5)
	s := plannerSession()
	ids := seedCheckpoints(t, tier, s, 3)

	corruptCheckpoint(t, tier, ids[2])
	corruptCheckpoint(t, tier, ids[1])

	plan, err := p.CreatePlan(context.Background(), s.Snapshot(), "")
	require.NoError(t, err)
	require.True(t, p.Execute(context.Background(), s, plan))

	snap := s.Snapshot()
	assert.Equal(t, int64(0), snap.Workers["w0"].Actions, "restored from the oldest, intact checkpoint")
	assert.Equal(t, 2, countEvents(s, "recovery_fallback"))

	s.mu.Lock()
	recovery := s.Recovery
	s.mu.Unlock()
	require.NotNil(t, recovery)
	assert.Equal(t, ids[0], recovery.CheckpointID)
	assert.Equal(t, 3, recovery.Attempts)
}

func TestExecuteExhaustsAllCandidates(t *testing.T) {
	p, tier := newPlannerFixture(t, 5)
	s := plannerSession()
	ids := seedCheckpoints(t, tier, s, 2)
	for _, id := range ids {
		corruptCheckpoint(t, tier, id)
	}

	plan, err := p.CreatePlan(context.Background(), s.Snapshot(), "")
	require.NoError(t, err)
	assert.False(t, p.Execute(context.Background(), s, plan))

	assert.Equal(t, 0, countEvents(s, "recovery_succeeded"))
	assert.Equal(t, 1, countEvents(s, "recovery_failed"))

	s.mu.Lock()
	var failed *Event
	for i := range s.Events {
		if s.Events[i].Description == "recovery_failed" {
			failed = &s.Events[i]
		}
	}
	s.mu.Unlock()
	require.NotNil(t, failed)
	assert.True(t, failed.ActionRequired)
	assert.Equal(t, SeverityCritical, failed.Severity)
}

func TestExecuteSkipsMissingCheckpoints(t *testing.T) {
	p, tier := newPlannerFixture(t, 5)
	s := plannerSession()
	ids := seedCheckpoints(t, tier, s, 2)

	require.NoError(t, tier.DeleteCheckpoint(context.Background(), ids[1]))

	plan, err := p.CreatePlan(context.Background(), s.Snapshot(), "")
	require.NoError(t, err)
	require.True(t, p.Execute(context.Background(), s, plan))

	s.mu.Lock()
	recovery := s.Recovery
	s.mu.Unlock()
	require.NotNil(t, recovery)
	assert.Equal(t, ids[0], recovery.CheckpointID)
}
