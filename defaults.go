package dispatch

import (
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/ygrebnov/dispatch/metrics"
)

const (
	defaultName               = Namespace
	defaultOutcomesBufferSize = 1024
	tracerName                = "github.com/ygrebnov/dispatch"
)

// defaultConfig centralizes default values for config.
func defaultConfig() config {
	return config{
		Name:               defaultName,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:            metrics.NewNoopProvider(),
		Tracer:             otel.Tracer(tracerName),
		FailFast:           false,
		StrictAdmission:    false,
		OutcomesBufferSize: defaultOutcomesBufferSize,
	}
}

// validateConfig checks invariants options cannot enforce one at a time.
func validateConfig(cfg *config) error {
	switch {
	case cfg.Logger == nil:
		return withReason(ErrInvalidConfig, "logger is nil")
	case cfg.Metrics == nil:
		return withReason(ErrInvalidConfig, "metrics provider is nil")
	case cfg.Tracer == nil:
		return withReason(ErrInvalidConfig, "tracer is nil")
	}
	return nil
}

func buildConfig(opts []Option) (*config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
