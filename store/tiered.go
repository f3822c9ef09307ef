package store

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// DegradedWriteHandler is invoked when a save falls back to the
// emergency file because every regular tier failed.
type DegradedWriteHandler func(cp *Checkpoint, cause error)

// TieredStore composes an ordered tier chain (fast first, then durable)
// with an archive tier and a local emergency fallback tier.
type TieredStore struct {
	mu        sync.RWMutex
	tiers     []Tier
	archive   Tier
	emergency Tier
	onDegrade DegradedWriteHandler
	logger    *zap.Logger
	closed    bool
}

// NewTieredStore builds a store over the given chain. tiers must be
// ordered fastest-first; archive and emergency may be nil only in tests.
func NewTieredStore(tiers []Tier, archive, emergency Tier, logger *zap.Logger) *TieredStore {
	return &TieredStore{
		tiers:     tiers,
		archive:   archive,
		emergency: emergency,
		logger:    logger.With(zap.String("component", "checkpoint_store")),
	}
}

// OnDegradedWrite registers a callback for degraded writes.
func (t *TieredStore) OnDegradedWrite(fn DegradedWriteHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDegrade = fn
}

// saveChain writes the checkpoint to every tier in the chain and returns
// how many succeeded along with the first failure.
func saveChain(ctx context.Context, tiers []Tier, cp *Checkpoint, logger *zap.Logger) (int, error) {
	saved := 0
	var firstErr error
	for _, tier := range tiers {
		if err := tier.SaveCheckpoint(ctx, cp); err != nil {
			logger.Warn("tier save failed",
				zap.String("tier", tier.Name()),
				zap.String("checkpoint_id", cp.ID),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		saved++
	}
	return saved, firstErr
}

// loadChain reads through the tiers in order and returns the checkpoint
// along with the index of the tier that served it.
func loadChain(ctx context.Context, tiers []Tier, id string, logger *zap.Logger) (*Checkpoint, int, error) {
	var lastErr error
	for i, tier := range tiers {
		cp, err := tier.LoadCheckpoint(ctx, id)
		if err == nil {
			return cp, i, nil
		}
		if !errors.Is(err, ErrNotFound) {
			logger.Warn("tier load failed",
				zap.String("tier", tier.Name()),
				zap.String("checkpoint_id", id),
				zap.Error(err),
			)
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNotFound
	}
	return nil, -1, lastErr
}

// Save writes through to every regular tier. A partial failure is
// tolerated; when every tier fails the checkpoint goes to the emergency
// file and the degraded-write handler fires.
func (t *TieredStore) Save(ctx context.Context, cp *Checkpoint) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return ErrStoreClosed
	}

	saved, firstErr := saveChain(ctx, t.tiers, cp, t.logger)
	if saved > 0 {
		if firstErr != nil {
			t.logger.Warn("checkpoint saved to a subset of tiers",
				zap.String("checkpoint_id", cp.ID),
				zap.Int("saved", saved),
			)
		} else {
			t.logger.Debug("checkpoint saved",
				zap.String("checkpoint_id", cp.ID),
				zap.String("session_id", cp.SessionID),
			)
		}
		return nil
	}

	if t.emergency == nil {
		return firstErr
	}

	if err := t.emergency.SaveCheckpoint(ctx, cp); err != nil {
		return errors.Join(firstErr, err)
	}

	t.logger.Warn("degraded write: checkpoint saved to emergency file only",
		zap.String("checkpoint_id", cp.ID),
		zap.String("session_id", cp.SessionID),
		zap.Error(firstErr),
	)
	if t.onDegrade != nil {
		t.onDegrade(cp, firstErr)
	}
	return nil
}

// Load reads through the tier chain, repopulating faster tiers on a hit
// and falling back to the emergency file on a full miss. The checksum is
// re-verified; a mismatch marks the checkpoint unverified.
func (t *TieredStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, ErrStoreClosed
	}

	cp, hitIdx, err := loadChain(ctx, t.tiers, id, t.logger)
	if err != nil {
		if t.emergency == nil {
			return nil, err
		}
		cp, err = t.emergency.LoadCheckpoint(ctx, id)
		if err != nil {
			return nil, err
		}
		hitIdx = len(t.tiers)
	}

	// Repopulate faster tiers so the next read hits earlier.
	for i := 0; i < hitIdx && i < len(t.tiers); i++ {
		if rerr := t.tiers[i].SaveCheckpoint(ctx, cp); rerr != nil {
			t.logger.Debug("tier repopulation failed",
				zap.String("tier", t.tiers[i].Name()),
				zap.Error(rerr),
			)
		}
	}

	if !cp.VerifyChecksum() {
		cp.Verified = false
		t.logger.Warn("checkpoint failed verification",
			zap.String("checkpoint_id", cp.ID),
			zap.String("session_id", cp.SessionID),
			zap.Error(ErrChecksumMismatch),
		)
	}
	return cp, nil
}

// Archive moves the given checkpoints to the archive tier, in order,
// and evicts them from the regular tiers. An archive-tier failure stops
// the pass; the returned count tells the caller how many ids were
// handled so the rest can be retried. Ids unreadable from every tier
// have nothing left to move and are counted as handled.
func (t *TieredStore) Archive(ctx context.Context, ids []string) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return 0, ErrStoreClosed
	}
	if t.archive == nil {
		return 0, ErrTierUnavailable
	}

	for i, id := range ids {
		cp, _, err := loadChain(ctx, t.tiers, id, t.logger)
		if err != nil {
			t.logger.Warn("archival skipped, checkpoint unreadable",
				zap.String("checkpoint_id", id),
				zap.Error(err),
			)
			continue
		}

		if err := t.archive.SaveCheckpoint(ctx, cp); err != nil {
			t.logger.Warn("archive save failed, keeping checkpoint in place",
				zap.String("checkpoint_id", id),
				zap.Error(err),
			)
			return i, err
		}

		for _, tier := range t.tiers {
			if err := tier.DeleteCheckpoint(ctx, id); err != nil {
				t.logger.Warn("tier eviction failed",
					zap.String("tier", tier.Name()),
					zap.String("checkpoint_id", id),
					zap.Error(err),
				)
			}
		}

		t.logger.Debug("checkpoint archived", zap.String("checkpoint_id", id))
	}
	return len(ids), nil
}

// LoadArchived retrieves a checkpoint from the archive tier.
func (t *TieredStore) LoadArchived(ctx context.Context, id string) (*Checkpoint, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, ErrStoreClosed
	}
	if t.archive == nil {
		return nil, ErrTierUnavailable
	}

	cp, err := t.archive.LoadCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cp.VerifyChecksum() {
		cp.Verified = false
		t.logger.Warn("archived checkpoint failed verification",
			zap.String("checkpoint_id", cp.ID),
			zap.Error(ErrChecksumMismatch),
		)
	}
	return cp, nil
}

// Delete removes a checkpoint from the regular tiers.
func (t *TieredStore) Delete(ctx context.Context, id string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return ErrStoreClosed
	}

	var firstErr error
	for _, tier := range t.tiers {
		if err := tier.DeleteCheckpoint(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SaveSessionRecord writes the session record through the tier chain,
// with the same degraded-write fallback as checkpoints.
func (t *TieredStore) SaveSessionRecord(ctx context.Context, sessionID string, data []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return ErrStoreClosed
	}

	saved := 0
	var firstErr error
	for _, tier := range t.tiers {
		if err := tier.SaveSessionRecord(ctx, sessionID, data); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		saved++
	}
	if saved > 0 {
		return nil
	}

	if t.emergency == nil {
		return firstErr
	}
	if err := t.emergency.SaveSessionRecord(ctx, sessionID, data); err != nil {
		return errors.Join(firstErr, err)
	}
	t.logger.Warn("degraded write: session record saved to emergency file only",
		zap.String("session_id", sessionID),
		zap.Error(firstErr),
	)
	return nil
}

// LoadSessionRecord reads the session record through the tier chain and
// the emergency file.
func (t *TieredStore) LoadSessionRecord(ctx context.Context, sessionID string) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, ErrStoreClosed
	}

	var lastErr error
	for _, tier := range t.tiers {
		data, err := tier.LoadSessionRecord(ctx, sessionID)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	if t.emergency != nil {
		data, err := t.emergency.LoadSessionRecord(ctx, sessionID)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNotFound
	}
	return nil, lastErr
}

// Close closes every tier.
func (t *TieredStore) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var firstErr error
	all := append([]Tier{}, t.tiers...)
	if t.archive != nil {
		all = append(all, t.archive)
	}
	if t.emergency != nil {
		all = append(all, t.emergency)
	}
	for _, tier := range all {
		if err := tier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
