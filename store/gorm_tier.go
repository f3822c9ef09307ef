package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// checkpointRecord is the row schema shared by the durable and archive
// tiers; the table name distinguishes them.
type checkpointRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	SessionID string `gorm:"index;size:64"`
	State     []byte
	Checksum  string `gorm:"size:64"`
	Verified  bool
	CreatedAt time.Time
}

// sessionRecord is the persisted session aggregate, opaque to the store.
type sessionRecord struct {
	SessionID string `gorm:"primaryKey;size:64"`
	Data      []byte
	UpdatedAt time.Time
}

// GormTier is a database-backed tier. The durable tier and the cold
// archive tier are both GormTiers over different tables.
type GormTier struct {
	db           *gorm.DB
	name         string
	table        string
	sessionTable string
	logger       *zap.Logger
}

// NewGormTier creates a tier over the given tables, migrating them.
func NewGormTier(db *gorm.DB, name, table, sessionTable string, logger *zap.Logger) (*GormTier, error) {
	if err := db.Table(table).AutoMigrate(&checkpointRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate %s: %w", table, err)
	}
	if sessionTable != "" {
		if err := db.Table(sessionTable).AutoMigrate(&sessionRecord{}); err != nil {
			return nil, fmt.Errorf("failed to migrate %s: %w", sessionTable, err)
		}
	}

	return &GormTier{
		db:           db,
		name:         name,
		table:        table,
		sessionTable: sessionTable,
		logger:       logger.With(zap.String("tier", name)),
	}, nil
}

// NewDurableTier creates the durable structured tier.
func NewDurableTier(db *gorm.DB, logger *zap.Logger) (*GormTier, error) {
	return NewGormTier(db, "durable", "checkpoints", "session_records", logger)
}

// NewArchiveTier creates the cold archive tier. It carries no session
// records; only trimmed checkpoints land here.
func NewArchiveTier(db *gorm.DB, logger *zap.Logger) (*GormTier, error) {
	return NewGormTier(db, "archive", "archived_checkpoints", "", logger)
}

// Name implements Tier.
func (t *GormTier) Name() string { return t.name }

// SaveCheckpoint upserts the checkpoint row.
func (t *GormTier) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	rec := checkpointRecord{
		ID:        cp.ID,
		SessionID: cp.SessionID,
		State:     cp.State,
		Checksum:  cp.Checksum,
		Verified:  cp.Verified,
		CreatedAt: cp.CreatedAt,
	}

	err := t.db.WithContext(ctx).Table(t.table).Save(&rec).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}

	t.logger.Debug("checkpoint saved",
		zap.String("checkpoint_id", cp.ID),
		zap.String("session_id", cp.SessionID),
	)
	return nil
}

// LoadCheckpoint loads the checkpoint row by id.
func (t *GormTier) LoadCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	var rec checkpointRecord
	err := t.db.WithContext(ctx).Table(t.table).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}

	return &Checkpoint{
		ID:        rec.ID,
		SessionID: rec.SessionID,
		State:     rec.State,
		Checksum:  rec.Checksum,
		Verified:  rec.Verified,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// DeleteCheckpoint removes the checkpoint row.
func (t *GormTier) DeleteCheckpoint(ctx context.Context, id string) error {
	err := t.db.WithContext(ctx).Table(t.table).Where("id = ?", id).Delete(&checkpointRecord{}).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}
	return nil
}

// ListSessionCheckpointIDs returns the session's checkpoint ids in
// creation order, for audit and cross-restart recovery.
func (t *GormTier) ListSessionCheckpointIDs(ctx context.Context, sessionID string) ([]string, error) {
	var ids []string
	err := t.db.WithContext(ctx).Table(t.table).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}
	return ids, nil
}

// SaveSessionRecord upserts the session record row.
func (t *GormTier) SaveSessionRecord(ctx context.Context, sessionID string, data []byte) error {
	if t.sessionTable == "" {
		return fmt.Errorf("tier %s does not hold session records", t.name)
	}
	rec := sessionRecord{SessionID: sessionID, Data: data, UpdatedAt: time.Now()}
	err := t.db.WithContext(ctx).Table(t.sessionTable).Save(&rec).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}
	return nil
}

// LoadSessionRecord loads the session record row.
func (t *GormTier) LoadSessionRecord(ctx context.Context, sessionID string) ([]byte, error) {
	if t.sessionTable == "" {
		return nil, ErrNotFound
	}
	var rec sessionRecord
	err := t.db.WithContext(ctx).Table(t.sessionTable).
		Where("session_id = ?", sessionID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}
	return rec.Data, nil
}

// Ping checks database availability.
func (t *GormTier) Ping(ctx context.Context) error {
	sqlDB, err := t.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close is a no-op; the shared *gorm.DB is owned by the caller.
func (t *GormTier) Close() error {
	return nil
}
