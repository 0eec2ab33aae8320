package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ygrebnov/errorc"
)

// Register adds a worker to the tail of the rotation and returns its id.
//
// If an item is held (ModeBlocked), it is dispatched right away, before any item
// admitted later, keeping the sequence number it got at admission.
// Workers can be registered while draining, which is how a held item gets resolved
// after Flush.
func (d *Dispatcher[T, R]) Register(w Worker[T, R]) (WorkerID, error) {
	if w == nil {
		return WorkerID{}, ErrNilWorker
	}

	defer d.leaveAdmission()
	d.admitMu.Lock()
	defer d.admitMu.Unlock()

	d.mu.Lock()
	d.admitting++
	if d.closed {
		d.mu.Unlock()
		return WorkerID{}, ErrClosed
	}

	id := newWorkerID()
	from := d.registry.mode()
	d.registry.add(id, w)
	d.instr.workers.Add(1)
	d.logTransition("worker registered", from, id)

	h := d.held
	if h == nil {
		d.mu.Unlock()
		return id, nil
	}

	d.held = nil
	close(d.ready)
	next := d.registry.next()
	rec, ctx := d.beginLocked(h.seq, next.id)
	d.mu.Unlock()

	d.logger.Debug("dispatching held item",
		slog.Uint64("seq", uint64(h.seq)),
		slog.String("worker_id", next.id.String()),
	)
	d.invoke(ctx, rec, next.worker, h.item)
	return id, nil
}

// Unregister removes a worker from the rotation. Items already dispatched to it
// stay with it. Unknown ids fail with ErrUnknownWorker.
func (d *Dispatcher[T, R]) Unregister(id WorkerID) error {
	d.admitMu.Lock()
	defer d.admitMu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	from := d.registry.mode()
	if err := d.registry.remove(id); err != nil {
		return errorc.With(err, errorc.String("worker_id", id.String()))
	}
	d.instr.workers.Add(-1)
	d.logTransition("worker unregistered", from, id)
	return nil
}

// logTransition must be called with d.mu held.
func (d *Dispatcher[T, R]) logTransition(msg string, from Mode, id WorkerID) {
	to := d.registry.mode()
	attrs := []any{
		slog.String("worker_id", id.String()),
		slog.Int("workers", d.registry.count()),
	}
	if from == to {
		d.logger.Debug(msg, attrs...)
		return
	}
	d.logger.Info(msg, append(attrs,
		slog.String("mode_from", from.String()),
		slog.String("mode_to", to.String()),
	)...)
}

// Flush requests shutdown: no more items are admitted and onComplete is called
// once every pending item has been emitted (err == nil) or the dispatcher aborted
// (err is the fatal cause). With nothing pending it completes before returning.
//
// Flush may be called several times; each non-nil onComplete runs exactly once.
// The sink's Complete runs exactly once overall, before the callbacks.
func (d *Dispatcher[T, R]) Flush(onComplete func(err error)) {
	d.mu.Lock()
	if d.closed {
		err := d.err
		d.mu.Unlock()
		if onComplete != nil {
			onComplete(err)
		}
		return
	}

	if onComplete != nil {
		d.callbacks = append(d.callbacks, onComplete)
	}
	if !d.flushing {
		d.flushing = true
		d.logger.Debug("flush requested",
			slog.Int("inflight", d.inflight),
			slog.Int("buffered", d.buffer.len()),
			slog.Bool("held", d.held != nil),
		)
	}
	notify := d.startEmitLocked()
	d.mu.Unlock()
	notify()
}

// Close flushes the dispatcher and waits until it has drained or ctx is done.
// It returns the fatal cause if the dispatcher aborted.
func (d *Dispatcher[T, R]) Close(ctx context.Context) error {
	d.Flush(nil)
	select {
	case <-d.done:
		return d.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the dispatcher is closed and every completion callback has run.
func (d *Dispatcher[T, R]) Done() <-chan struct{} { return d.done }

// Err returns the fatal cause of an aborted dispatcher, nil otherwise.
func (d *Dispatcher[T, R]) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// WaitReady blocks until an admission would not be refused because an item is
// held with no workers registered. It returns the admission error if the
// dispatcher is draining or closed, or ctx.Err().
func (d *Dispatcher[T, R]) WaitReady(ctx context.Context) error {
	for {
		d.mu.Lock()
		if err := d.admissionErrLocked(); err != nil {
			d.mu.Unlock()
			return err
		}
		if d.held == nil {
			d.mu.Unlock()
			return nil
		}
		ready := d.ready
		d.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// abort closes the dispatcher with a fatal error. Outcomes not yet emitted are dropped.
func (d *Dispatcher[T, R]) abort(err error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Error("fatal error after close", slog.String("error", err.Error()))
		return
	}
	d.finishLocked(err, true)
	notify := d.startEmitLocked()
	d.mu.Unlock()
	notify()
}

// finishLocked moves the dispatcher to StateClosed and prepares the notification
// of the sink and the flush callbacks; startEmitLocked hands it out once the
// outbox is delivered, so Complete always follows the last Emit.
// With drop set, outcomes not yet emitted are discarded.
func (d *Dispatcher[T, R]) finishLocked(err error, drop bool) {
	if d.closed {
		return
	}
	d.closed = true
	d.err = err
	callbacks := d.callbacks
	d.callbacks = nil
	if d.held != nil {
		d.held = nil
		close(d.ready)
	}
	if drop {
		d.dropped.Store(true)
		d.outbox = nil
	}
	d.cancel()

	if err != nil {
		d.logger.Error("dispatcher aborted",
			slog.String("error", err.Error()),
			slog.Int("inflight", d.inflight),
			slog.Int("buffered", d.buffer.len()),
			slog.Uint64("emitted", d.emitted),
		)
	} else {
		d.logger.Info("dispatcher drained", slog.Uint64("emitted", d.emitted))
	}

	d.notify = func() {
		d.sink.Complete(err)
		for _, cb := range callbacks {
			cb(err)
		}
		close(d.done)
	}
}

// lifecycleCoordinator encapsulates the shutdown sequence of a Pipe.
// It doesn't own channels; it orchestrates cancellation, waits and the flush
// in a deterministic order.
//
// Close() is safe for concurrent calls; the sequence executes exactly once.
type lifecycleCoordinator struct {
	stopIntake  func()
	intakeWG    *sync.WaitGroup
	flush       func()
	waitDrained func()

	once sync.Once
}

func newLifecycleCoordinator(
	stopIntake func(),
	intakeWG *sync.WaitGroup,
	flush func(),
	waitDrained func(),
) *lifecycleCoordinator {
	return &lifecycleCoordinator{
		stopIntake:  stopIntake,
		intakeWG:    intakeWG,
		flush:       flush,
		waitDrained: waitDrained,
	}
}

// Close executes the shutdown sequence exactly once:
// 1) stop the intake loop
// 2) wait for it to exit, so no admission races the flush
// 3) request the flush
// 4) wait for the dispatcher to drain and notify the sink
func (lc *lifecycleCoordinator) Close() {
	lc.once.Do(func() {
		if lc.stopIntake != nil {
			lc.stopIntake()
		}
		if lc.intakeWG != nil {
			lc.intakeWG.Wait()
		}
		if lc.flush != nil {
			lc.flush()
		}
		if lc.waitDrained != nil {
			lc.waitDrained()
		}
	})
}
