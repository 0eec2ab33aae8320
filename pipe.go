package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Pipe connects an input channel to a Dispatcher and exposes the ordered
// outcomes as a channel.
//
// Lifecycle:
//   - NewPipe starts an intake goroutine that admits items from `in`. Before each
//     item it waits until the dispatcher can take it (WaitReady), so with no workers
//     registered exactly one item is held and the rest stay in `in`.
//   - Intake stops when `in` is closed, ctx is done, Close is called or the
//     dispatcher aborts. The pipe then flushes: every admitted item is still
//     resolved and emitted, and Outcomes is closed afterwards.
//   - A held item needs a registered worker to resolve, so a pipe that never gets
//     a worker never closes Outcomes.
//
// The consumer must drain Outcomes until it is closed.
type Pipe[T, R any] struct {
	d    *Dispatcher[T, R]
	sink *ChannelSink[R]

	intakeWG sync.WaitGroup
	lc       *lifecycleCoordinator
}

// NewPipe builds a Dispatcher configured by opts and starts reading `in`.
// Register workers on the returned pipe; they can be added and removed at any time.
func NewPipe[T, R any](ctx context.Context, in <-chan T, opts ...Option) (*Pipe[T, R], error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	sink := NewChannelSink[R](cfg.OutcomesBufferSize)
	p := &Pipe[T, R]{
		d:    newDispatcher[T, R](ctx, sink, cfg),
		sink: sink,
	}

	intakeCtx, stopIntake := context.WithCancel(ctx)
	p.lc = newLifecycleCoordinator(
		stopIntake,
		&p.intakeWG,
		func() { p.d.Flush(nil) },
		func() { <-p.d.Done() },
	)

	p.intakeWG.Add(1)
	go func() {
		defer p.intakeWG.Done()
		p.intake(intakeCtx, in)
	}()

	go func() {
		p.intakeWG.Wait()
		p.lc.Close()
	}()

	return p, nil
}

// intake admits items from `in` until it is closed, ctx is done or the
// dispatcher stops accepting items.
func (p *Pipe[T, R]) intake(ctx context.Context, in <-chan T) {
	for {
		if err := p.d.WaitReady(ctx); err != nil {
			p.logStop(err)
			return
		}

		select {
		case <-ctx.Done():
			// stop intake without draining `in`
			return
		case item, ok := <-in:
			if !ok {
				return
			}
			if err := p.d.Admit(item); err != nil {
				p.logStop(err)
				return
			}
		}
	}
}

func (p *Pipe[T, R]) logStop(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	p.d.logger.Warn("pipe intake stopped", slog.String("error", err.Error()))
}

// Register adds a worker to the pipe's dispatcher.
func (p *Pipe[T, R]) Register(w Worker[T, R]) (WorkerID, error) { return p.d.Register(w) }

// Unregister removes a worker from the pipe's dispatcher.
func (p *Pipe[T, R]) Unregister(id WorkerID) error { return p.d.Unregister(id) }

// Outcomes returns the ordered outcomes channel. It is closed after the flush.
func (p *Pipe[T, R]) Outcomes() <-chan Outcome[R] { return p.sink.Outcomes() }

// Dispatcher exposes the underlying dispatcher, e.g. for Stats.
func (p *Pipe[T, R]) Dispatcher() *Dispatcher[T, R] { return p.d }

// Close stops intake, flushes and waits until every admitted item was emitted.
// Outcomes must keep being drained while Close runs.
func (p *Pipe[T, R]) Close() error {
	p.lc.Close()
	return p.d.Err()
}

// Err returns the fatal cause if the dispatcher aborted. Valid after Outcomes is closed.
func (p *Pipe[T, R]) Err() error { return p.sink.Err() }
