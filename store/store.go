// Package store provides the tiered checkpoint store: an ordered chain
// of storage tiers (fast cache, durable database, cold archive) plus a
// local emergency fallback file used only when every tier is down.
//
// Tiers implement one narrow interface; the TieredStore composes them
// with read-through, write-through, and degraded-write semantics.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound         = errors.New("not found")
	ErrTierUnavailable  = errors.New("tier unavailable")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrStoreClosed      = errors.New("store is closed")
)

// Checkpoint is an immutable, checksummed snapshot of a session's
// restorable state. State is an opaque canonical serialization owned by
// the session core; the store never interprets it.
type Checkpoint struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	State     []byte    `json:"state"`
	Checksum  string    `json:"checksum"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCheckpoint builds a checkpoint over the given state bytes,
// computing the checksum and stamping creation time.
func NewCheckpoint(sessionID string, state []byte) *Checkpoint {
	return &Checkpoint{
		ID:        generateCheckpointID(),
		SessionID: sessionID,
		State:     state,
		Checksum:  ComputeChecksum(state),
		Verified:  true,
		CreatedAt: time.Now(),
	}
}

// generateCheckpointID returns a time-prefixed checkpoint id. The uuid
// suffix keeps ids unique when checkpoints land on the same nanosecond.
func generateCheckpointID() string {
	return fmt.Sprintf("ckpt_%d_%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// ComputeChecksum returns the hex sha256 of the canonical state bytes.
func ComputeChecksum(state []byte) string {
	sum := sha256.Sum256(state)
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum recomputes the checksum and reports whether it matches.
func (c *Checkpoint) VerifyChecksum() bool {
	return ComputeChecksum(c.State) == c.Checksum
}

// Tier is one storage backend in the ordered fallback chain.
type Tier interface {
	// Name identifies the tier in logs and metrics.
	Name() string

	// SaveCheckpoint persists a checkpoint keyed by its id.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error

	// LoadCheckpoint loads a checkpoint by id. Returns ErrNotFound on miss.
	LoadCheckpoint(ctx context.Context, id string) (*Checkpoint, error)

	// DeleteCheckpoint removes a checkpoint by id. Missing ids are not errors.
	DeleteCheckpoint(ctx context.Context, id string) error

	// SaveSessionRecord persists an opaque session record keyed by session id.
	SaveSessionRecord(ctx context.Context, sessionID string, data []byte) error

	// LoadSessionRecord loads a session record. Returns ErrNotFound on miss.
	LoadSessionRecord(ctx context.Context, sessionID string) ([]byte, error)

	// Ping checks tier availability.
	Ping(ctx context.Context) error

	// Close releases tier resources.
	Close() error
}

// Store is the surface the session core consumes.
type Store interface {
	// Save writes through to the fast and durable tiers; when both fail
	// it falls back to the emergency file and reports a degraded write.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load reads through the tier chain, repopulating earlier tiers on a
	// hit and re-verifying the checksum. A mismatch marks the returned
	// checkpoint unverified.
	Load(ctx context.Context, id string) (*Checkpoint, error)

	// Archive moves the given checkpoints to the archive tier, in order,
	// evicting them from the fast and durable tiers. It stops at the
	// first checkpoint the archive tier rejects and returns how many ids
	// it got through, so callers can retry the remainder. Ids unreadable
	// from every tier cannot be moved and are counted as handled.
	Archive(ctx context.Context, ids []string) (int, error)

	// LoadArchived retrieves an archived checkpoint by id.
	LoadArchived(ctx context.Context, id string) (*Checkpoint, error)

	// Delete removes a checkpoint from the fast and durable tiers.
	Delete(ctx context.Context, id string) error

	// SaveSessionRecord writes a session record through the tier chain.
	SaveSessionRecord(ctx context.Context, sessionID string, data []byte) error

	// LoadSessionRecord reads a session record through the tier chain.
	LoadSessionRecord(ctx context.Context, sessionID string) ([]byte, error)

	// Close releases all tiers.
	Close() error
}
