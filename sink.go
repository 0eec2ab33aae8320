package dispatch

import "sync"

// Outcome is what the dispatcher emits for one admitted item, in admission order.
// Err is non-nil when the worker failed; it is an *ItemError wrapping ErrWorkerFailure.
type Outcome[R any] struct {
	Seq    Seq
	Value  R
	Err    error
	Worker WorkerID
}

// Failed reports whether the worker failed to produce a value for this item.
func (o Outcome[R]) Failed() bool { return o.Err != nil }

// Sink receives the ordered output of a Dispatcher.
//
// Emit is called once per admitted item, strictly in admission order, and never
// concurrently with itself. Complete is called exactly once after the last Emit;
// err is nil after a clean flush and the fatal cause otherwise.
//
// Emit runs outside of the dispatcher state lock. It may block, which delays
// later emissions, and other goroutines may meanwhile use the dispatcher
// (Stats, Register, Flush). Emit may itself call the read-only accessors.
// A panic in Emit aborts the dispatcher with ErrSinkPanicked and is propagated
// to the goroutine that was emitting.
type Sink[R any] interface {
	Emit(o Outcome[R])
	Complete(err error)
}

// SinkFuncs adapts a pair of functions to Sink. Nil fields are skipped.
type SinkFuncs[R any] struct {
	OnEmit     func(Outcome[R])
	OnComplete func(error)
}

func (s SinkFuncs[R]) Emit(o Outcome[R]) {
	if s.OnEmit != nil {
		s.OnEmit(o)
	}
}

func (s SinkFuncs[R]) Complete(err error) {
	if s.OnComplete != nil {
		s.OnComplete(err)
	}
}

// ChannelSink delivers outcomes to a channel and closes it on completion.
// The consumer must keep draining Outcomes until it is closed.
type ChannelSink[R any] struct {
	outcomes  chan Outcome[R]
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewChannelSink creates a ChannelSink whose channel buffers up to size outcomes.
func NewChannelSink[R any](size uint) *ChannelSink[R] {
	return &ChannelSink[R]{outcomes: make(chan Outcome[R], size)}
}

func (s *ChannelSink[R]) Emit(o Outcome[R]) { s.outcomes <- o }

func (s *ChannelSink[R]) Complete(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.outcomes)
	})
}

// Outcomes returns the channel carrying ordered outcomes.
func (s *ChannelSink[R]) Outcomes() <-chan Outcome[R] { return s.outcomes }

// Err returns the error the sink was completed with. Valid once Outcomes is closed.
func (s *ChannelSink[R]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
