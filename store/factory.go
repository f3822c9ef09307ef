package store

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config selects and configures the store tiers.
type Config struct {
	// Redis configures the fast cache tier.
	Redis RedisConfig `yaml:"redis" json:"redis"`

	// EmergencyDir holds the per-session emergency fallback files.
	EmergencyDir string `yaml:"emergency_dir" json:"emergency_dir"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Redis:        DefaultRedisConfig(),
		EmergencyDir: "./data/emergency",
	}
}

// New assembles the full tier chain: redis fast tier, durable and
// archive tiers on the given database, and the local emergency file.
func New(cfg Config, db *gorm.DB, logger *zap.Logger) (*TieredStore, error) {
	fast, err := NewRedisTier(cfg.Redis, logger)
	if err != nil {
		return nil, err
	}

	durable, err := NewDurableTier(db, logger)
	if err != nil {
		fast.Close()
		return nil, err
	}

	archive, err := NewArchiveTier(db, logger)
	if err != nil {
		fast.Close()
		return nil, err
	}

	emergency, err := NewFileTier(cfg.EmergencyDir)
	if err != nil {
		fast.Close()
		return nil, err
	}

	return NewTieredStore([]Tier{fast, durable}, archive, emergency, logger), nil
}
