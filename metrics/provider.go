// Package metrics is the recording surface of a dispatcher. A Provider hands out
// named instruments; the package ships NoopProvider (default), BasicProvider
// (in-memory, readable back in tests) and OTelProvider (OpenTelemetry meter).
package metrics

// Units used by the dispatcher instruments, in UCUM notation as OpenTelemetry expects.
const (
	UnitItems   = "1"
	UnitSeconds = "s"
)

// Kind tells which instrument constructor created a name.
type Kind int

const (
	KindCounter Kind = iota + 1
	KindUpDownCounter
	KindHistogram
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindUpDownCounter:
		return "updown_counter"
	case KindHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// Provider creates instruments by name. Asking twice for the same name may
// return the same instrument. Implementations are safe for concurrent use, and
// so are the instruments they return.
type Provider interface {
	Counter(name string, opts ...InstrumentOption) Counter
	UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter
	Histogram(name string, opts ...InstrumentOption) Histogram
}

// Counter only grows: admitted, completed, failed and emitted items.
type Counter interface {
	Add(n int64)
}

// UpDownCounter tracks a level: in-flight dispatches, buffered outcomes, workers.
type UpDownCounter interface {
	Add(n int64)
}

// Histogram records measurements such as dispatch durations in seconds.
type Histogram interface {
	Record(v float64)
}

// InstrumentConfig is the metadata an instrument was created with.
// Providers are free to ignore any of it.
type InstrumentConfig struct {
	Kind        Kind
	Description string
	Unit        string
	// Attributes label every measurement of the instrument, e.g. the dispatcher name.
	Attributes map[string]string
}

// InstrumentOption sets a field of InstrumentConfig.
type InstrumentOption func(*InstrumentConfig)

// WithDescription documents what the instrument counts.
func WithDescription(desc string) InstrumentOption {
	return func(c *InstrumentConfig) { c.Description = desc }
}

// WithUnit sets the measurement unit, see UnitItems and UnitSeconds.
func WithUnit(unit string) InstrumentOption {
	return func(c *InstrumentConfig) { c.Unit = unit }
}

// WithAttributes merges attrs into the instrument attributes. attrs is copied.
func WithAttributes(attrs map[string]string) InstrumentOption {
	return func(c *InstrumentConfig) {
		for k, v := range attrs {
			if c.Attributes == nil {
				c.Attributes = make(map[string]string, len(attrs))
			}
			c.Attributes[k] = v
		}
	}
}

func newInstrumentConfig(kind Kind, opts []InstrumentOption) InstrumentConfig {
	cfg := InstrumentConfig{Kind: kind}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
