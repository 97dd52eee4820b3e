package palimpsest

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// engineMetrics holds the OpenTelemetry instruments for the engine.
// All methods are safe to call when no meter was configured.
type engineMetrics struct {
	// durationHistogram records expansion duration in milliseconds.
	durationHistogram metric.Float64Histogram

	// appliedCounter counts assertions folded onto entities.
	appliedCounter metric.Int64Counter

	// skippedCounter counts assertions skipped by gating or errors.
	skippedCounter metric.Int64Counter
}

// newEngineMetrics creates the metric instruments. A nil meter yields
// a no-op instance; instrument-creation failures are logged and leave
// the corresponding instrument disabled.
func newEngineMetrics(meter metric.Meter, logger *slog.Logger) *engineMetrics {
	m := &engineMetrics{}
	if meter == nil {
		return m
	}

	var err error
	m.durationHistogram, err = meter.Float64Histogram(
		"palimpsest.expand.duration",
		metric.WithDescription("Entity expansion duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		logger.Warn("create duration histogram", slog.String("error", err.Error()))
	}

	m.appliedCounter, err = meter.Int64Counter(
		"palimpsest.assertions.applied",
		metric.WithDescription("Number of annotation assertions folded onto entities"),
		metric.WithUnit("1"),
	)
	if err != nil {
		logger.Warn("create applied counter", slog.String("error", err.Error()))
	}

	m.skippedCounter, err = meter.Int64Counter(
		"palimpsest.assertions.skipped",
		metric.WithDescription("Number of annotation assertions skipped during expansion"),
		metric.WithUnit("1"),
	)
	if err != nil {
		logger.Warn("create skipped counter", slog.String("error", err.Error()))
	}

	return m
}

// startTimer returns a stop function recording the expansion duration
// with its outcome.
func (m *engineMetrics) startTimer(ctx context.Context) func(success bool) {
	start := time.Now()
	return func(success bool) {
		if m.durationHistogram == nil {
			return
		}
		m.durationHistogram.Record(ctx,
			float64(time.Since(start))/float64(time.Millisecond),
			metric.WithAttributes(attribute.Bool("success", success)),
		)
	}
}

// recordAssertions records the applied and skipped assertion counts
// for one expansion.
func (m *engineMetrics) recordAssertions(ctx context.Context, applied, skipped int) {
	if m.appliedCounter != nil {
		m.appliedCounter.Add(ctx, int64(applied))
	}
	if m.skippedCounter != nil {
		m.skippedCounter.Add(ctx, int64(skipped))
	}
}

// startSpan opens the expansion span, or a no-op span when no tracer
// was configured.
func (g *Engine) startSpan(ctx context.Context, id string) (context.Context, trace.Span) {
	tracer := g.tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("palimpsest")
	}
	return tracer.Start(ctx, "palimpsest.expand",
		trace.WithAttributes(attribute.String("palimpsest.identifier", id)),
	)
}
