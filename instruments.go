package dispatch

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ygrebnov/dispatch/metrics"
)

// Instrument names recorded through the configured metrics.Provider.
const (
	MetricItemsAdmitted   = "dispatch_items_admitted_total"
	MetricItemsCompleted  = "dispatch_items_completed_total"
	MetricItemsFailed     = "dispatch_items_failed_total"
	MetricItemsEmitted    = "dispatch_items_emitted_total"
	MetricItemsInFlight   = "dispatch_items_inflight"
	MetricReorderBuffered = "dispatch_reorder_buffered"
	MetricWorkers         = "dispatch_workers_registered"
	MetricItemDuration    = "dispatch_item_duration_seconds"
)

// SpanName is the name of the span covering one dispatch, from worker
// invocation to completion.
const SpanName = "dispatch.item"

type instruments struct {
	name   string
	tracer trace.Tracer

	admitted  metrics.Counter
	completed metrics.Counter
	failed    metrics.Counter
	emitted   metrics.Counter
	inflight  metrics.UpDownCounter
	buffered  metrics.UpDownCounter
	workers   metrics.UpDownCounter
	duration  metrics.Histogram
}

func newInstruments(cfg *config) *instruments {
	p := cfg.Metrics
	attrs := metrics.WithAttributes(map[string]string{"dispatcher": cfg.Name})
	count := metrics.WithUnit(metrics.UnitItems)

	return &instruments{
		name:   cfg.Name,
		tracer: cfg.Tracer,

		admitted: p.Counter(MetricItemsAdmitted,
			metrics.WithDescription("Items admitted, including a held item"), count, attrs),
		completed: p.Counter(MetricItemsCompleted,
			metrics.WithDescription("Dispatches resolved by a worker, successfully or not"), count, attrs),
		failed: p.Counter(MetricItemsFailed,
			metrics.WithDescription("Dispatches a worker failed"), count, attrs),
		emitted: p.Counter(MetricItemsEmitted,
			metrics.WithDescription("Outcomes released to the sink in order"), count, attrs),
		inflight: p.UpDownCounter(MetricItemsInFlight,
			metrics.WithDescription("Dispatches not yet resolved"), count, attrs),
		buffered: p.UpDownCounter(MetricReorderBuffered,
			metrics.WithDescription("Resolved outcomes waiting for an earlier one"), count, attrs),
		workers: p.UpDownCounter(MetricWorkers,
			metrics.WithDescription("Registered workers"), count, attrs),
		duration: p.Histogram(MetricItemDuration,
			metrics.WithDescription("Time from dispatch to completion"), metrics.WithUnit(metrics.UnitSeconds), attrs),
	}
}

func (in *instruments) startSpan(ctx context.Context, seq Seq, worker WorkerID) (context.Context, trace.Span) {
	return in.tracer.Start(ctx, SpanName,
		trace.WithAttributes(
			attribute.String("dispatch.name", in.name),
			attribute.Int64("dispatch.seq", int64(seq)),
			attribute.String("dispatch.worker_id", worker.String()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (in *instruments) endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
