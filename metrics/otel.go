package metrics

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelProvider records into an OpenTelemetry metric.Meter.
// Static instrument attributes are attached to every measurement.
// Instruments the meter refuses to create fall back to no-ops; the first such
// error is available from Err.
type OTelProvider struct {
	meter metric.Meter

	mu  sync.Mutex
	err error
}

// NewOTelProvider constructs a Provider backed by meter.
func NewOTelProvider(meter metric.Meter) (*OTelProvider, error) {
	if meter == nil {
		return nil, errors.New("metrics: nil meter")
	}
	return &OTelProvider{meter: meter}, nil
}

// Err returns the first instrument creation error, if any.
func (p *OTelProvider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *OTelProvider) record(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
}

// Counter returns an Int64Counter named name.
func (p *OTelProvider) Counter(name string, opts ...InstrumentOption) Counter {
	cfg := newInstrumentConfig(KindCounter, opts)
	c, err := p.meter.Int64Counter(name, int64Options(cfg)...)
	if err != nil {
		p.record(err)
		return noopCounter{}
	}
	return otelCounter{c: c, attrs: measurementOptions(cfg)}
}

// UpDownCounter returns an Int64UpDownCounter named name.
func (p *OTelProvider) UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter {
	cfg := newInstrumentConfig(KindUpDownCounter, opts)
	u, err := p.meter.Int64UpDownCounter(name, int64UpDownOptions(cfg)...)
	if err != nil {
		p.record(err)
		return noopUpDownCounter{}
	}
	return otelUpDownCounter{u: u, attrs: measurementOptions(cfg)}
}

// Histogram returns a Float64Histogram named name.
func (p *OTelProvider) Histogram(name string, opts ...InstrumentOption) Histogram {
	cfg := newInstrumentConfig(KindHistogram, opts)
	var hopts []metric.Float64HistogramOption
	if cfg.Description != "" {
		hopts = append(hopts, metric.WithDescription(cfg.Description))
	}
	if cfg.Unit != "" {
		hopts = append(hopts, metric.WithUnit(cfg.Unit))
	}
	h, err := p.meter.Float64Histogram(name, hopts...)
	if err != nil {
		p.record(err)
		return noopHistogram{}
	}
	return otelHistogram{h: h, attrs: recordOptions(cfg)}
}

func int64Options(cfg InstrumentConfig) []metric.Int64CounterOption {
	var out []metric.Int64CounterOption
	if cfg.Description != "" {
		out = append(out, metric.WithDescription(cfg.Description))
	}
	if cfg.Unit != "" {
		out = append(out, metric.WithUnit(cfg.Unit))
	}
	return out
}

func int64UpDownOptions(cfg InstrumentConfig) []metric.Int64UpDownCounterOption {
	var out []metric.Int64UpDownCounterOption
	if cfg.Description != "" {
		out = append(out, metric.WithDescription(cfg.Description))
	}
	if cfg.Unit != "" {
		out = append(out, metric.WithUnit(cfg.Unit))
	}
	return out
}

// attributeSet converts static attributes in key order.
func attributeSet(attrs map[string]string) attribute.Set {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kvs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		kvs = append(kvs, attribute.String(k, attrs[k]))
	}
	return attribute.NewSet(kvs...)
}

func measurementOptions(cfg InstrumentConfig) []metric.AddOption {
	if len(cfg.Attributes) == 0 {
		return nil
	}
	return []metric.AddOption{metric.WithAttributeSet(attributeSet(cfg.Attributes))}
}

func recordOptions(cfg InstrumentConfig) []metric.RecordOption {
	if len(cfg.Attributes) == 0 {
		return nil
	}
	return []metric.RecordOption{metric.WithAttributeSet(attributeSet(cfg.Attributes))}
}

type otelCounter struct {
	c     metric.Int64Counter
	attrs []metric.AddOption
}

func (c otelCounter) Add(n int64) { c.c.Add(context.Background(), n, c.attrs...) }

type otelUpDownCounter struct {
	u     metric.Int64UpDownCounter
	attrs []metric.AddOption
}

func (u otelUpDownCounter) Add(n int64) { u.u.Add(context.Background(), n, u.attrs...) }

type otelHistogram struct {
	h     metric.Float64Histogram
	attrs []metric.RecordOption
}

func (h otelHistogram) Record(v float64) { h.h.Record(context.Background(), v, h.attrs...) }
