package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisTier(t *testing.T) *RedisTier {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisTierWithClient(client, "tradeflow-test", time.Hour, zap.NewNop())
}

func TestRedisTierCheckpointRoundTrip(t *testing.T) {
	tier := newTestRedisTier(t)
	ctx := context.Background()

	cp := NewCheckpoint("sess_1", []byte(`{"workers":{"w0":{"actions":3}}}`))
	require.NoError(t, tier.SaveCheckpoint(ctx, cp))

	got, err := tier.LoadCheckpoint(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, got.ID)
	assert.Equal(t, cp.SessionID, got.SessionID)
	assert.Equal(t, cp.State, got.State)
	assert.Equal(t, cp.Checksum, got.Checksum)
	assert.True(t, got.VerifyChecksum())
}

func TestRedisTierLoadMiss(t *testing.T) {
	tier := newTestRedisTier(t)

	_, err := tier.LoadCheckpoint(context.Background(), "ckpt_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisTierDeleteCheckpoint(t *testing.T) {
	tier := newTestRedisTier(t)
	ctx := context.Background()

	cp := NewCheckpoint("sess_1", []byte("state"))
	require.NoError(t, tier.SaveCheckpoint(ctx, cp))
	require.NoError(t, tier.DeleteCheckpoint(ctx, cp.ID))

	_, err := tier.LoadCheckpoint(ctx, cp.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing checkpoint is not an error.
	assert.NoError(t, tier.DeleteCheckpoint(ctx, "ckpt_missing"))
}

func TestRedisTierSessionRecord(t *testing.T) {
	tier := newTestRedisTier(t)
	ctx := context.Background()

	_, err := tier.LoadSessionRecord(ctx, "sess_1")
	assert.ErrorIs(t, err, ErrNotFound)

	data := []byte(`{"id":"sess_1","status":"active"}`)
	require.NoError(t, tier.SaveSessionRecord(ctx, "sess_1", data))

	got, err := tier.LoadSessionRecord(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRedisTierUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	tier := NewRedisTierWithClient(client, "tradeflow-test", 0, zap.NewNop())

	mr.Close()

	err := tier.SaveCheckpoint(context.Background(), NewCheckpoint("s", []byte("x")))
	assert.ErrorIs(t, err, ErrTierUnavailable)
}

func TestRedisTierPing(t *testing.T) {
	tier := newTestRedisTier(t)
	assert.NoError(t, tier.Ping(context.Background()))
}
