package dispatch

import (
	"context"

	"github.com/google/uuid"
)

// WorkerID identifies a registered worker. It is assigned by Register and is
// the only handle accepted by Unregister.
type WorkerID uuid.UUID

func newWorkerID() WorkerID { return WorkerID(uuid.New()) }

func (id WorkerID) String() string { return uuid.UUID(id).String() }

// Completion reports the outcome of one dispatch. It must be called exactly once;
// a second call is detected and aborts the dispatcher with ErrDoubleCompletion.
type Completion[R any] func(result R, err error)

// Worker handles dispatched items. Invoke may return before the work is done and
// call done later from any goroutine, or call it synchronously before returning.
//
// The dispatcher invokes a worker at most once per item and never hands the same
// item to another worker.
type Worker[T, R any] interface {
	Invoke(ctx context.Context, item T, done Completion[R])
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc[T, R any] func(ctx context.Context, item T, done Completion[R])

func (f WorkerFunc[T, R]) Invoke(ctx context.Context, item T, done Completion[R]) {
	f(ctx, item, done)
}
