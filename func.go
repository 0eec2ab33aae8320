package dispatch

import (
	"context"
	"fmt"

	"github.com/ygrebnov/dispatch/pool"
)

// FuncOption configures a worker built by Func.
type FuncOption func(*funcConfig)

type funcConfig struct {
	concurrency uint
}

// WithConcurrency caps the number of concurrent executions of the function for
// one worker. Zero (default) means unbounded.
func WithConcurrency(n uint) FuncOption {
	return func(c *funcConfig) { c.concurrency = n }
}

// Func adapts a blocking function into an asynchronous Worker. Each invocation
// runs fn in its own goroutine; a panic in fn fails the item with
// ErrWorkerPanicked and a canceled context fails it with ErrWorkerCancelled.
func Func[T, R any](fn func(context.Context, T) (R, error), opts ...FuncOption) Worker[T, R] {
	var cfg funcConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	newRunner := func() *runner[T, R] { return &runner[T, R]{fn: fn} }

	var p pool.Pool[*runner[T, R]]
	if cfg.concurrency > 0 {
		p = pool.NewFixed(cfg.concurrency, newRunner)
	} else {
		p = pool.NewDynamic(newRunner)
	}
	return &funcWorker[T, R]{runners: p}
}

// Inline adapts a function into a Worker that completes before Invoke returns.
// It suits cheap transformations; items are still emitted in order.
func Inline[T, R any](fn func(context.Context, T) (R, error)) Worker[T, R] {
	return WorkerFunc[T, R](func(ctx context.Context, item T, done Completion[R]) {
		done(fn(ctx, item))
	})
}

type funcWorker[T, R any] struct {
	runners pool.Pool[*runner[T, R]]
}

func (w *funcWorker[T, R]) Invoke(ctx context.Context, item T, done Completion[R]) {
	go func() {
		r, err := w.runners.Get(ctx)
		if err != nil {
			var zero R
			done(zero, fmt.Errorf("%w: %w", ErrWorkerCancelled, err))
			return
		}
		done(r.run(ctx, item, func() { w.runners.Put(r) }))
	}()
}

// runner executes the function for one item at a time.
type runner[T, R any] struct {
	fn func(context.Context, T) (R, error)
}

// run centralizes goroutine launch, panic recovery, and ctx cancellation.
// release is called once fn has returned, or right away if fn is never started,
// so a runner is not reused while an abandoned call still runs.
func (r *runner[T, R]) run(ctx context.Context, item T, release func()) (R, error) {
	var (
		result R
		err    error
	)

	if cerr := ctx.Err(); cerr != nil {
		release()
		return result, fmt.Errorf("%w: %w", ErrWorkerCancelled, cerr)
	}

	done := make(chan struct{})

	go func() {
		defer release()
		defer func() {
			if ePanic := recover(); ePanic != nil {
				err = fmt.Errorf("%w: %v", ErrWorkerPanicked, ePanic)
			}
			close(done)
		}()

		result, err = r.fn(ctx, item)
	}()

	select {
	case <-ctx.Done():
		// fn may have finished just as ctx was canceled; keep its result then.
		select {
		case <-done:
			return result, err
		default:
		}
		return *(new(R)), fmt.Errorf("%w: %w", ErrWorkerCancelled, ctx.Err())
	case <-done:
		return result, err
	}
}
