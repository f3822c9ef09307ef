// Package config provides the typed configuration for the tradeflow
// daemon. Values are layered: defaults, then a YAML file decoded
// strictly so unknown keys are rejected at load time.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tradeflow-io/tradeflow/internal/database"
	"github.com/tradeflow-io/tradeflow/session"
	"github.com/tradeflow-io/tradeflow/store"
)

// Config is the complete daemon configuration.
type Config struct {
	// Controller configures the lifecycle controller.
	Controller session.ControllerConfig `yaml:"controller"`

	// Health configures the health monitor sweep.
	Health session.HealthConfig `yaml:"health"`

	// Scheduler configures the checkpoint scheduler sweep.
	Scheduler session.SchedulerConfig `yaml:"scheduler"`

	// Store configures the checkpoint tiers.
	Store store.Config `yaml:"store"`

	// Database configures the durable tier connection.
	Database database.Config `yaml:"database"`

	// Notifier configures worker notifications.
	Notifier NotifierConfig `yaml:"notifier"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`

	// Metrics configures the prometheus collector.
	Metrics MetricsConfig `yaml:"metrics"`
}

// NotifierConfig configures the worker notification bus.
type NotifierConfig struct {
	// Backend selects "redis" or "channel".
	Backend string `yaml:"backend"`

	// PublishRate caps notifier publishes per second (0 = unlimited).
	PublishRate float64 `yaml:"publish_rate"`

	// Buffer sizes the in-process channel backend.
	Buffer int `yaml:"buffer"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level"`

	// Development switches to the human-readable console encoder.
	Development bool `yaml:"development"`
}

// MetricsConfig configures the prometheus collector.
type MetricsConfig struct {
	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`

	// Port serves the /metrics endpoint (0 disables the listener).
	Port int `yaml:"port"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Controller: session.DefaultControllerConfig(),
		Health:     session.DefaultHealthConfig(),
		Scheduler:  session.DefaultSchedulerConfig(),
		Store:      store.DefaultConfig(),
		Database:   database.DefaultConfig(),
		Notifier: NotifierConfig{
			Backend:     "redis",
			PublishRate: 100,
			Buffer:      256,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Namespace: "tradeflow",
			Port:      9091,
		},
	}
}

// Load reads the YAML file over the defaults. Unknown keys fail the load.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field sanity.
func (c *Config) Validate() error {
	if c.Controller.MaxActiveSessions < 0 {
		return fmt.Errorf("controller.max_active_sessions must be >= 0")
	}
	if c.Controller.RecoveryCandidates <= 0 {
		return fmt.Errorf("controller.recovery_candidates must be positive")
	}
	if c.Health.SweepInterval <= 0 {
		return fmt.Errorf("health.sweep_interval must be positive")
	}
	if c.Health.MaxErrorRatio <= 0 || c.Health.MaxErrorRatio > 1 {
		return fmt.Errorf("health.max_error_ratio must be in (0, 1]")
	}
	if c.Scheduler.SweepInterval <= 0 {
		return fmt.Errorf("scheduler.sweep_interval must be positive")
	}
	switch c.Notifier.Backend {
	case "redis", "channel":
	default:
		return fmt.Errorf("notifier.backend must be \"redis\" or \"channel\", got %q", c.Notifier.Backend)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug/info/warn/error, got %q", c.Log.Level)
	}
	if c.Store.Redis.TTL < 0 {
		return fmt.Errorf("store.redis.ttl must be >= 0")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	return nil
}
