package dispatch

import (
	"log/slog"

	"github.com/ygrebnov/errorc"
	"go.opentelemetry.io/otel/trace"

	"github.com/ygrebnov/dispatch/metrics"
)

// Option configures a Dispatcher. Use New(ctx, sink, opts...) to apply options.
type Option func(*config) error

func withReason(err error, reason string) error {
	return errorc.With(err, errorc.String("", reason))
}

// WithName labels the instance in logs, metric attributes and spans.
func WithName(name string) Option {
	return func(cfg *config) error {
		if name == "" {
			return withReason(ErrInvalidConfig, "WithName requires a non-empty name")
		}
		cfg.Name = name
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) error {
		if l == nil {
			return withReason(ErrInvalidConfig, "WithLogger requires a non-nil logger")
		}
		cfg.Logger = l
		return nil
	}
}

// WithMetrics sets the metrics provider. Use metrics.NewBasicProvider for an
// in-memory provider or metrics.NewOTelProvider to export through OpenTelemetry.
func WithMetrics(p metrics.Provider) Option {
	return func(cfg *config) error {
		if p == nil {
			return withReason(ErrInvalidConfig, "WithMetrics requires a non-nil provider")
		}
		cfg.Metrics = p
		return nil
	}
}

// WithTracer sets the tracer used for per-dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(cfg *config) error {
		if t == nil {
			return withReason(ErrInvalidConfig, "WithTracer requires a non-nil tracer")
		}
		cfg.Tracer = t
		return nil
	}
}

// WithFailFast aborts the dispatcher once the first failed outcome has been emitted.
func WithFailFast() Option {
	return func(cfg *config) error { cfg.FailFast = true; return nil }
}

// WithStrictAdmission aborts the dispatcher on an admission while an item is
// already held with no workers registered, instead of only rejecting it.
func WithStrictAdmission() Option {
	return func(cfg *config) error { cfg.StrictAdmission = true; return nil }
}

// WithOutcomesBuffer sets the buffer of the outcomes channel created by Pipe (default 1024).
// Zero makes every emission wait for the consumer.
func WithOutcomesBuffer(size uint) Option {
	return func(cfg *config) error { cfg.OutcomesBufferSize = size; return nil }
}
