package dispatch

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/ygrebnov/dispatch/metrics"
)

// config holds Dispatcher configuration.
type config struct {
	// Name labels the instance in logs, metric attributes and spans.
	// Default: "dispatch".
	Name string

	// Logger receives lifecycle and failure logs.
	// Default: a logger discarding everything.
	Logger *slog.Logger

	// Metrics provides instruments for admission, completion and buffering counters.
	// Default: metrics.NoopProvider.
	Metrics metrics.Provider

	// Tracer starts one span per dispatch.
	// Default: the global OpenTelemetry tracer (noop unless a provider is installed).
	Tracer trace.Tracer

	// FailFast turns the first worker failure reaching the output into a fatal error:
	// the failed outcome is emitted, then the dispatcher aborts with its error.
	// Default: false (failures are delivered in place and processing continues).
	FailFast bool

	// StrictAdmission aborts the dispatcher when an item is admitted while another
	// one is held in ModeBlocked. Otherwise the admission is only rejected.
	// Default: false.
	StrictAdmission bool

	// OutcomesBufferSize sizes the outcomes channel created by Pipe. Map collects
	// into a slice and ignores it.
	// Default: 1024.
	OutcomesBufferSize uint
}
