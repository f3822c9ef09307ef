package store

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestDurableTierCheckpointRoundTrip(t *testing.T) {
	tier, err := NewDurableTier(newTestDB(t), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	cp := NewCheckpoint("sess_1", []byte(`{"n":1}`))
	require.NoError(t, tier.SaveCheckpoint(ctx, cp))

	got, err := tier.LoadCheckpoint(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, got.ID)
	assert.Equal(t, cp.State, got.State)
	assert.Equal(t, cp.Checksum, got.Checksum)
	assert.True(t, got.Verified)
}

func TestDurableTierUpsert(t *testing.T) {
	tier, err := NewDurableTier(newTestDB(t), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	cp := NewCheckpoint("sess_1", []byte(`{"n":1}`))
	require.NoError(t, tier.SaveCheckpoint(ctx, cp))
	// Repopulation after a fast-tier miss saves the same row again.
	require.NoError(t, tier.SaveCheckpoint(ctx, cp))

	ids, err := tier.ListSessionCheckpointIDs(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, []string{cp.ID}, ids)
}

func TestDurableTierLoadMiss(t *testing.T) {
	tier, err := NewDurableTier(newTestDB(t), zap.NewNop())
	require.NoError(t, err)

	_, err = tier.LoadCheckpoint(context.Background(), "ckpt_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDurableTierDelete(t *testing.T) {
	tier, err := NewDurableTier(newTestDB(t), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	cp := NewCheckpoint("sess_1", []byte("state"))
	require.NoError(t, tier.SaveCheckpoint(ctx, cp))
	require.NoError(t, tier.DeleteCheckpoint(ctx, cp.ID))

	_, err = tier.LoadCheckpoint(ctx, cp.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDurableTierListSessionCheckpointIDs(t *testing.T) {
	tier, err := NewDurableTier(newTestDB(t), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	var want []string
	for i := 0; i < 3; i++ {
		cp := NewCheckpoint("sess_1", []byte("state"))
		require.NoError(t, tier.SaveCheckpoint(ctx, cp))
		want = append(want, cp.ID)
	}
	// Another session's checkpoints must not leak in.
	require.NoError(t, tier.SaveCheckpoint(ctx, NewCheckpoint("sess_2", []byte("state"))))

	ids, err := tier.ListSessionCheckpointIDs(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, want, ids)
}

func TestDurableTierSessionRecord(t *testing.T) {
	tier, err := NewDurableTier(newTestDB(t), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = tier.LoadSessionRecord(ctx, "sess_1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tier.SaveSessionRecord(ctx, "sess_1", []byte(`{"v":1}`)))
	require.NoError(t, tier.SaveSessionRecord(ctx, "sess_1", []byte(`{"v":2}`)))

	got, err := tier.LoadSessionRecord(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), got)
}

func TestArchiveTierHoldsNoSessionRecords(t *testing.T) {
	tier, err := NewArchiveTier(newTestDB(t), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	err = tier.SaveSessionRecord(ctx, "sess_1", []byte("x"))
	assert.Error(t, err)

	_, err = tier.LoadSessionRecord(ctx, "sess_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDurableAndArchiveTiersShareDatabase(t *testing.T) {
	db := newTestDB(t)
	durable, err := NewDurableTier(db, zap.NewNop())
	require.NoError(t, err)
	archive, err := NewArchiveTier(db, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	cp := NewCheckpoint("sess_1", []byte("state"))
	require.NoError(t, durable.SaveCheckpoint(ctx, cp))
	require.NoError(t, archive.SaveCheckpoint(ctx, cp))
	require.NoError(t, durable.DeleteCheckpoint(ctx, cp.ID))

	// Tables are independent: eviction from the durable tier leaves the
	// archived copy in place.
	_, err = durable.LoadCheckpoint(ctx, cp.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := archive.LoadCheckpoint(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.State, got.State)
}
