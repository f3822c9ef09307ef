package session

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Template is a named bundle of session defaults.
type Template struct {
	ID      string     `yaml:"id" json:"id"`
	Type    Type       `yaml:"type" json:"type"`
	Options Options    `yaml:"options" json:"options"`
	Risk    RiskLimits `yaml:"risk" json:"risk"`
}

// TemplateRegistry holds session templates. It is injected into the
// controller at construction; there is no global instance.
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[string]Template
	logger    *zap.Logger
}

// NewTemplateRegistry creates a registry seeded with the built-in
// per-type defaults.
func NewTemplateRegistry(logger *zap.Logger) *TemplateRegistry {
	r := &TemplateRegistry{
		templates: make(map[string]Template),
		logger:    logger.With(zap.String("component", "template_registry")),
	}
	r.registerBuiltinTemplates()
	return r
}

// registerBuiltinTemplates registers the default template per session type.
func (r *TemplateRegistry) registerBuiltinTemplates() {
	for _, t := range []Type{TypeStandard, TypeExtendedHours, TypeSimulated, TypeBacktest, TypeManualOverride} {
		r.Register(Template{
			ID:      string(t),
			Type:    t,
			Options: defaultOptionsFor(t),
			Risk:    defaultRiskFor(t),
		})
	}
}

// defaultOptionsFor returns the per-type default options.
func defaultOptionsFor(t Type) Options {
	opts := Options{
		WorkerIDs:          []string{"worker-0"},
		LoopInterval:       5 * time.Second,
		PausedLoopInterval: 30 * time.Second,
		CheckpointInterval: 1 * time.Minute,
		MaxDuration:        8 * time.Hour,
		IdleTimeout:        2 * time.Hour,
		MaxCheckpoints:     20,
	}
	switch t {
	case TypeExtendedHours:
		opts.MaxDuration = 16 * time.Hour
	case TypeBacktest:
		// Backtests replay as fast as possible and run unbounded.
		opts.LoopInterval = 100 * time.Millisecond
		opts.MaxDuration = 0
		opts.IdleTimeout = 0
	case TypeSimulated:
		opts.CheckpointInterval = 5 * time.Minute
	case TypeManualOverride:
		opts.MaxDuration = 1 * time.Hour
		opts.IdleTimeout = 30 * time.Minute
	}
	return opts
}

// defaultRiskFor returns the per-type default risk limits.
func defaultRiskFor(t Type) RiskLimits {
	risk := RiskLimits{
		MaxLoss:             1000,
		MaxExposure:         10000,
		MaxActionsPerWorker: 500,
	}
	switch t {
	case TypeSimulated, TypeBacktest:
		risk.MaxLoss = 0 // Paper budgets, no auto-stop on loss.
	case TypeManualOverride:
		risk.MaxActionsPerWorker = 50
	}
	return risk
}

// Register adds or replaces a template.
func (r *TemplateRegistry) Register(t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.templates[t.ID] = t
	r.logger.Info("template registered",
		zap.String("template_id", t.ID),
		zap.String("type", string(t.Type)),
	)
}

// Get returns the template by id.
func (r *TemplateRegistry) Get(id string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("template %q not registered", id)
	}
	return t, nil
}

// ForType returns the built-in template for a session type.
func (r *TemplateRegistry) ForType(t Type) (Template, error) {
	return r.Get(string(t))
}

// List returns all registered template ids.
func (r *TemplateRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	return ids
}
