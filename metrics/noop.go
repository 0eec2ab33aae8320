package metrics

// NoopProvider hands out instruments that discard every measurement.
// It is the default provider of a dispatcher and is safe for concurrent use.
type NoopProvider struct{}

// NewNoopProvider constructs a Provider that discards all metrics.
func NewNoopProvider() NoopProvider { return NoopProvider{} }

// Counter returns a counter that ignores Add.
func (NoopProvider) Counter(string, ...InstrumentOption) Counter { return noopCounter{} }

// UpDownCounter returns an up/down counter that ignores Add.
func (NoopProvider) UpDownCounter(string, ...InstrumentOption) UpDownCounter {
	return noopUpDownCounter{}
}

// Histogram returns a histogram that ignores Record.
func (NoopProvider) Histogram(string, ...InstrumentOption) Histogram { return noopHistogram{} }

type (
	noopCounter       struct{}
	noopUpDownCounter struct{}
	noopHistogram     struct{}
)

func (noopCounter) Add(int64) {}

func (noopUpDownCounter) Add(int64) {}

func (noopHistogram) Record(float64) {}

var (
	_ Provider = NoopProvider{}
	_ Provider = (*BasicProvider)(nil)
	_ Provider = (*OTelProvider)(nil)
)
