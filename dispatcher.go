package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ygrebnov/errorc"
	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle state of a Dispatcher.
type State int

const (
	// StateIdle: nothing admitted is pending.
	StateIdle State = iota
	// StateDispatching: at least one admitted item has not been emitted yet.
	StateDispatching
	// StateDraining: Flush was requested and pending items are being resolved.
	StateDraining
	// StateClosed: terminal. The sink has been (or is being) completed.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Dispatcher hands admitted items to registered workers in round-robin order and
// emits their outcomes to a Sink in admission order.
// Methods are safe for concurrent use; admissions are serialized.
type Dispatcher[T, R any] struct {
	// noCopy prevents accidental copying of the dispatcher.
	//go:nocopy
	nc noCopy

	config *config
	id     uuid.UUID
	sink   Sink[R]
	instr  *instruments
	logger *slog.Logger

	// ctx is handed to workers; canceled once the dispatcher is closed.
	ctx    context.Context
	cancel context.CancelFunc

	// admitMu serializes admissions and registry changes, so workers are selected
	// and invoked in admission order.
	admitMu sync.Mutex

	mu       sync.Mutex
	registry *registry[T, R]
	seq      sequencer
	buffer   *reorderBuffer[R]
	inflight int
	held     *heldItem[T]
	// ready is closed whenever no item is held.
	ready     chan struct{}
	flushing  bool
	closed    bool
	err       error
	callbacks []func(error)
	emitted   uint64

	// outbox holds released outcomes waiting for Sink.Emit. Only the goroutine
	// that set emitting delivers them, outside of mu.
	outbox   []Outcome[R]
	emitting bool
	// admitting counts Admit/Register calls holding admitMu. While it is non-zero
	// emission waits for leaveAdmission, so Emit never runs under admitMu.
	admitting int
	// notify is the pending sink/callback notification of a closed dispatcher;
	// it runs once the outbox has been delivered.
	notify func()
	// dropped is set on abort; the emitter stops delivering.
	dropped atomic.Bool

	// done is closed after the sink and flush callbacks have been notified.
	done chan struct{}
}

// noCopy is a vet-recognized marker to discourage copying types with this field embedded.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

type heldItem[T any] struct {
	seq  Seq
	item T
}

// dispatchRecord tracks one dispatch from invocation to completion.
type dispatchRecord struct {
	seq       Seq
	worker    WorkerID
	started   time.Time
	span      trace.Span
	completed atomic.Bool
}

// New creates a Dispatcher emitting to sink. Workers receive a context derived from ctx.
// No workers are registered initially: the first admitted item is held until Register.
func New[T, R any](ctx context.Context, sink Sink[R], opts ...Option) (*Dispatcher[T, R], error) {
	if sink == nil {
		return nil, ErrNilSink
	}
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	return newDispatcher[T, R](ctx, sink, cfg), nil
}

func newDispatcher[T, R any](ctx context.Context, sink Sink[R], cfg *config) *Dispatcher[T, R] {
	d := &Dispatcher[T, R]{
		config:   cfg,
		id:       uuid.New(),
		sink:     sink,
		instr:    newInstruments(cfg),
		registry: newRegistry[T, R](),
		buffer:   newReorderBuffer[R](),
		ready:    closedChan(),
		done:     make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.logger = cfg.Logger.With(
		slog.String("dispatcher", cfg.Name),
		slog.String("instance_id", d.id.String()),
	)
	return d
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func nop() {}

func formatSeq(s Seq) string { return strconv.FormatUint(uint64(s), 10) }

// Admit accepts one item. It never waits for the worker: the item is stamped with
// the next sequence number and handed to the next worker in rotation.
//
// With no workers registered the item is held and dispatched by the next Register.
// Only one item can be held: a further admission fails with
// ErrIllegalAdmissionWhileBlocked (use WaitReady to apply backpressure).
// After Flush it fails with ErrDraining, after completion with ErrClosed.
//
// Outcomes a synchronous worker produced during the call are emitted before
// Admit returns, after the admission lock has been released.
func (d *Dispatcher[T, R]) Admit(item T) error {
	defer d.leaveAdmission()
	d.admitMu.Lock()
	defer d.admitMu.Unlock()

	d.mu.Lock()
	d.admitting++
	if err := d.admissionErrLocked(); err != nil {
		d.mu.Unlock()
		return err
	}

	if d.registry.mode() == ModeBlocked {
		err := d.holdLocked(item)
		d.mu.Unlock()
		return err
	}

	s := d.seq.assign()
	d.instr.admitted.Add(1)
	w := d.registry.next()
	rec, ctx := d.beginLocked(s, w.id)
	d.mu.Unlock()

	d.invoke(ctx, rec, w.worker, item)
	return nil
}

// leaveAdmission ends an Admit or Register call and delivers what completions
// released meanwhile.
func (d *Dispatcher[T, R]) leaveAdmission() {
	d.mu.Lock()
	d.admitting--
	notify := d.startEmitLocked()
	d.mu.Unlock()
	notify()
}

// holdLocked keeps item until a worker registers, or rejects it if an item is
// already held.
func (d *Dispatcher[T, R]) holdLocked(item T) error {
	if d.held != nil {
		heldSeq := d.held.seq
		err := errorc.With(ErrIllegalAdmissionWhileBlocked, errorc.String("held_seq", formatSeq(heldSeq)))
		if d.config.StrictAdmission {
			d.finishLocked(err, true)
			return err
		}
		d.logger.Warn("admission rejected while blocked", slog.Uint64("held_seq", uint64(heldSeq)))
		return err
	}

	s := d.seq.assign()
	d.held = &heldItem[T]{seq: s, item: item}
	d.ready = make(chan struct{})
	d.instr.admitted.Add(1)
	d.logger.Debug("item held until a worker registers", slog.Uint64("seq", uint64(s)))
	return nil
}

func (d *Dispatcher[T, R]) admissionErrLocked() error {
	switch {
	case d.closed && d.err != nil:
		return fmt.Errorf("%w: %w", ErrClosed, d.err)
	case d.closed:
		return ErrClosed
	case d.flushing:
		return ErrDraining
	}
	return nil
}

// beginLocked accounts a new dispatch and opens its span.
func (d *Dispatcher[T, R]) beginLocked(s Seq, worker WorkerID) (*dispatchRecord, context.Context) {
	d.inflight++
	d.instr.inflight.Add(1)
	ctx, span := d.instr.startSpan(d.ctx, s, worker)
	return &dispatchRecord{seq: s, worker: worker, started: time.Now(), span: span}, ctx
}

// invoke calls the worker outside of the state lock so it may complete synchronously.
// A panic escaping Invoke fails the item unless the worker already completed it;
// otherwise the panic is not the item's and is propagated.
func (d *Dispatcher[T, R]) invoke(ctx context.Context, rec *dispatchRecord, w Worker[T, R], item T) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if !rec.completed.CompareAndSwap(false, true) {
			panic(p)
		}
		var zero R
		d.settle(rec, zero, fmt.Errorf("%w: %v", ErrWorkerPanicked, p))
	}()
	w.Invoke(ctx, item, d.completion(rec))
}

// completion returns the exactly-once callback handed to the worker.
func (d *Dispatcher[T, R]) completion(rec *dispatchRecord) Completion[R] {
	return func(result R, err error) {
		if !rec.completed.CompareAndSwap(false, true) {
			d.abort(errorc.With(ErrDoubleCompletion,
				errorc.String("seq", formatSeq(rec.seq)),
				errorc.String("worker_id", rec.worker.String()),
			))
			return
		}
		d.settle(rec, result, err)
	}
}

// settle resolves one dispatch: the outcome goes through the reorder buffer and
// every outcome that became contiguous is emitted.
func (d *Dispatcher[T, R]) settle(rec *dispatchRecord, result R, err error) {
	d.instr.endSpan(rec.span, err)
	d.resolve(rec, result, err)()
}

func (d *Dispatcher[T, R]) resolve(rec *dispatchRecord, result R, err error) func() {
	elapsed := time.Since(rec.started)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nop
	}
	d.inflight--
	d.instr.inflight.Add(-1)
	d.instr.completed.Add(1)
	d.instr.duration.Record(elapsed.Seconds())

	o := Outcome[R]{Seq: rec.seq, Value: result, Worker: rec.worker}
	if err != nil {
		o.Err = newItemError(err, rec.seq, rec.worker)
		d.instr.failed.Add(1)
		d.logger.Debug("worker failed item",
			slog.Uint64("seq", uint64(rec.seq)),
			slog.String("worker_id", rec.worker.String()),
			slog.String("error", err.Error()),
		)
	}

	if ierr := d.buffer.insert(o); ierr != nil {
		d.finishLocked(ierr, true)
		return d.startEmitLocked()
	}
	d.instr.buffered.Add(1)

	return d.releaseLocked()
}

// releaseLocked moves every ready outcome to the outbox. The returned function
// must run after d.mu is released.
func (d *Dispatcher[T, R]) releaseLocked() func() {
	for o := range d.buffer.drainReady() {
		d.instr.buffered.Add(-1)
		d.outbox = append(d.outbox, o)

		if o.Err != nil && d.config.FailFast {
			// the failed outcome is still delivered before the sink completes
			d.finishLocked(o.Err, false)
			break
		}
	}
	return d.startEmitLocked()
}

// startEmitLocked makes the caller the emitter if outcomes are waiting and
// nobody is delivering them. Otherwise it completes a drained flush and hands
// out the pending close notification. The returned function must run after
// d.mu is released.
func (d *Dispatcher[T, R]) startEmitLocked() func() {
	if d.emitting || d.admitting > 0 {
		return nop
	}
	if len(d.outbox) > 0 {
		d.emitting = true
		return d.emit
	}
	if d.flushing && !d.closed && d.pendingLocked() == 0 {
		d.finishLocked(nil, false)
	}
	if n := d.notify; n != nil {
		d.notify = nil
		return n
	}
	return nop
}

// emit delivers the outbox batch by batch without holding d.mu. Only one
// goroutine emits at a time, so the emission order is total.
// A panicking sink aborts the dispatcher with ErrSinkPanicked before the panic
// is propagated.
func (d *Dispatcher[T, R]) emit() {
	sent := 0
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		d.mu.Lock()
		d.emitting = false
		d.countEmittedLocked(sent)
		d.finishLocked(fmt.Errorf("%w: %v", ErrSinkPanicked, p), true)
		d.dropped.Store(true)
		d.outbox = nil
		notify := d.startEmitLocked()
		d.mu.Unlock()
		notify()
		panic(p)
	}()

	for {
		d.mu.Lock()
		d.countEmittedLocked(sent)
		sent = 0
		batch := d.outbox
		d.outbox = nil
		if len(batch) == 0 {
			d.emitting = false
			notify := d.startEmitLocked()
			d.mu.Unlock()
			notify()
			return
		}
		d.mu.Unlock()

		for _, o := range batch {
			if d.dropped.Load() {
				break
			}
			d.sink.Emit(o)
			sent++
		}
	}
}

func (d *Dispatcher[T, R]) countEmittedLocked(n int) {
	if n == 0 {
		return
	}
	d.emitted += uint64(n)
	d.instr.emitted.Add(int64(n))
}

// pendingLocked counts admitted items whose outcome has not reached the sink.
func (d *Dispatcher[T, R]) pendingLocked() int {
	n := d.inflight + d.buffer.len() + len(d.outbox)
	if d.held != nil {
		n++
	}
	if d.emitting {
		n++
	}
	return n
}

// Mode returns the current admission mode.
func (d *Dispatcher[T, R]) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.mode()
}

// State returns the current lifecycle state. A held item counts as pending work.
func (d *Dispatcher[T, R]) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stateLocked()
}

func (d *Dispatcher[T, R]) stateLocked() State {
	switch {
	case d.closed:
		return StateClosed
	case d.flushing:
		return StateDraining
	case d.pendingLocked() > 0:
		return StateDispatching
	default:
		return StateIdle
	}
}

// InFlight returns the number of dispatched items whose worker has not completed yet.
func (d *Dispatcher[T, R]) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight
}

// Workers returns the registered worker ids in rotation order; the first one
// receives the next item.
func (d *Dispatcher[T, R]) Workers() []WorkerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.registry.ids()
}

// Stats is a point-in-time snapshot of a Dispatcher.
type Stats struct {
	Admitted     uint64
	Emitted      uint64
	InFlight     int
	Buffered     int
	Held         bool
	Workers      int
	NextExpected Seq
	Mode         Mode
	State        State
}

// Stats returns a consistent snapshot of the dispatcher bookkeeping.
func (d *Dispatcher[T, R]) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Admitted:     d.seq.assigned(),
		Emitted:      d.emitted,
		InFlight:     d.inflight,
		Buffered:     d.buffer.len(),
		Held:         d.held != nil,
		Workers:      d.registry.count(),
		NextExpected: d.buffer.nextExpected(),
		Mode:         d.registry.mode(),
		State:        d.stateLocked(),
	}
}
