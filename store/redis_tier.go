package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures the fast tier.
type RedisConfig struct {
	// Redis address
	Addr string `yaml:"addr" json:"addr"`

	// Password
	Password string `yaml:"password" json:"password"`

	// Database number
	DB int `yaml:"db" json:"db"`

	// Key prefix
	Prefix string `yaml:"prefix" json:"prefix"`

	// TTL applied to checkpoint blobs (0 keeps them until evicted)
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// Max retries per command
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// Connection pool size
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// Minimum idle connections
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// DefaultRedisConfig returns the default fast-tier configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Prefix:       "tradeflow",
		TTL:          24 * time.Hour,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisTier is the fast cache tier. Checkpoints are stored as JSON blobs
// keyed by id, with a per-session sorted-set index ordered by creation
// time for observability.
type RedisTier struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisTier connects a fast tier.
func NewRedisTier(config RedisConfig, logger *zap.Logger) (*RedisTier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisTierWithClient(client, config.Prefix, config.TTL, logger), nil
}

// NewRedisTierWithClient wraps an existing client (used by tests and by
// callers sharing one client with the notifier).
func NewRedisTierWithClient(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisTier {
	return &RedisTier{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("tier", "redis")),
	}
}

// Name implements Tier.
func (t *RedisTier) Name() string { return "redis" }

// SaveCheckpoint stores the checkpoint blob and indexes it under its session.
func (t *RedisTier) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := t.client.Set(ctx, t.checkpointKey(cp.ID), data, t.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}

	score := float64(cp.CreatedAt.UnixNano())
	if err := t.client.ZAdd(ctx, t.sessionKey(cp.SessionID), redis.Z{Score: score, Member: cp.ID}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}

	t.logger.Debug("checkpoint saved",
		zap.String("checkpoint_id", cp.ID),
		zap.String("session_id", cp.SessionID),
	)
	return nil
}

// LoadCheckpoint loads a checkpoint blob by id.
func (t *RedisTier) LoadCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	data, err := t.client.Get(ctx, t.checkpointKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// DeleteCheckpoint evicts a checkpoint blob and its index entry.
func (t *RedisTier) DeleteCheckpoint(ctx context.Context, id string) error {
	cp, err := t.LoadCheckpoint(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := t.client.Del(ctx, t.checkpointKey(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}
	if err := t.client.ZRem(ctx, t.sessionKey(cp.SessionID), id).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}
	return nil
}

// SaveSessionRecord stores the opaque session record.
func (t *RedisTier) SaveSessionRecord(ctx context.Context, sessionID string, data []byte) error {
	if err := t.client.Set(ctx, t.sessionRecordKey(sessionID), data, t.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}
	return nil
}

// LoadSessionRecord loads the opaque session record.
func (t *RedisTier) LoadSessionRecord(ctx context.Context, sessionID string) ([]byte, error) {
	data, err := t.client.Get(ctx, t.sessionRecordKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTierUnavailable, err)
	}
	return data, nil
}

// Ping checks connectivity.
func (t *RedisTier) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close closes the client.
func (t *RedisTier) Close() error {
	return t.client.Close()
}

func (t *RedisTier) checkpointKey(id string) string {
	return fmt.Sprintf("%s:checkpoint:%s", t.prefix, id)
}

func (t *RedisTier) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:checkpoints", t.prefix, sessionID)
}

func (t *RedisTier) sessionRecordKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:record", t.prefix, sessionID)
}
