package scope

import (
	"log/slog"
	"strings"

	"github.com/goliatone/go-cells"
	"github.com/goliatone/go-cells/internal/logging"
	"github.com/goliatone/go-cells/pkg/activity"
)

// Option configures a scope.
type Option func(*config)

type config struct {
	name     string
	values   map[*cells.Cell]any
	order    []*cells.Cell
	families []cells.FamilyFeed
	logger   *slog.Logger
	metrics  Metrics
	activity *activity.Emitter
}

// WithName labels the scope in errors, logs, metrics and activity events.
func WithName(name string) Option {
	return func(cfg *config) {
		cfg.name = strings.TrimSpace(name)
	}
}

// WithValue gives an explicit value-holding cell a scope-specific initial
// value.
func WithValue(c *cells.Cell, value any) Option {
	return func(cfg *config) {
		if cfg.values == nil {
			cfg.values = map[*cells.Cell]any{}
		}
		if _, exists := cfg.values[c]; !exists {
			cfg.order = append(cfg.order, c)
		}
		cfg.values[c] = value
	}
}

// WithFamily makes every member of feed explicit, including members created
// after the scope.
func WithFamily(feed cells.FamilyFeed) Option {
	return func(cfg *config) {
		if feed != nil {
			cfg.families = append(cfg.families, feed)
		}
	}
}

// WithLogger sets the logger. Scopes are silent by default.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithMetrics records scope lifecycle counters.
func WithMetrics(m Metrics) Option {
	return func(cfg *config) {
		cfg.metrics = m
	}
}

// WithActivity emits scope lifecycle and reclassification events.
func WithActivity(emitter *activity.Emitter) Option {
	return func(cfg *config) {
		cfg.activity = emitter
	}
}

func applyOptions(opts []Option) config {
	cfg := config{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = logging.NewNop()
	}
	if cfg.metrics == nil {
		cfg.metrics = nopMetrics{}
	}
	return cfg
}

// Metrics receives scope counters. Clone kinds are "explicit", "implicit"
// and "dependent"; reclassification targets are Classification strings.
type Metrics interface {
	ScopeCreated(scope string)
	ScopeDisposed(scope string)
	CloneCreated(scope, kind string)
	Reclassified(scope, to string)
	WriteOverride(scope string)
}

type nopMetrics struct{}

func (nopMetrics) ScopeCreated(string) {}
func (nopMetrics) ScopeDisposed(string) {}
func (nopMetrics) CloneCreated(string, string) {}
func (nopMetrics) Reclassified(string, string) {}
func (nopMetrics) WriteOverride(string) {}
