package palimpsest

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/scriptorium-dev/palimpsest/entity"
	"github.com/scriptorium-dev/palimpsest/event"
	"github.com/scriptorium-dev/palimpsest/match"
)

// Option configures the Engine.
type Option func(*engineConfig)

// engineConfig holds configuration for an Engine instance.
type engineConfig struct {
	logger    *slog.Logger
	tracer    trace.Tracer
	meter     metric.Meter
	registry  entity.Registry
	matcher   match.Predicate
	publisher event.Publisher
}

// WithLogger sets a custom logger for the engine. If not provided,
// slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer. Each expansion then runs
// inside its own span.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *engineConfig) {
		c.tracer = tracer
	}
}

// WithMeter sets an OpenTelemetry meter for expansion metrics
// (duration, applied and skipped assertion counts).
func WithMeter(meter metric.Meter) Option {
	return func(c *engineConfig) {
		c.meter = meter
	}
}

// WithRegistry sets the entity registry. If not provided, a fresh
// in-memory registry is created; share one registry between engines to
// share the per-identifier entity cache.
func WithRegistry(registry entity.Registry) Option {
	return func(c *engineConfig) {
		c.registry = registry
	}
}

// WithMatcher sets the default match predicate gating which
// annotations may augment an entity. If not provided, the dotted-path
// predicate over match.DefaultPaths is used. Per-call paths passed to
// Expand override this default.
func WithMatcher(matcher match.Predicate) Option {
	return func(c *engineConfig) {
		c.matcher = matcher
	}
}

// WithPublisher sets the change-notification publisher. Events are
// published exactly once per completed expansion and never for a
// failed one.
func WithPublisher(publisher event.Publisher) Option {
	return func(c *engineConfig) {
		c.publisher = publisher
	}
}
