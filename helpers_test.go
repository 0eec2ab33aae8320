package dispatch_test

import (
	"context"
	"sync"

	"github.com/ygrebnov/dispatch"
)

// recordingSink keeps everything the dispatcher hands to it.
type recordingSink[R any] struct {
	mu        sync.Mutex
	outcomes  []dispatch.Outcome[R]
	completes int
	err       error
	// emittedAtComplete is the number of outcomes seen when Complete was called.
	emittedAtComplete int
}

func (s *recordingSink[R]) Emit(o dispatch.Outcome[R]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
}

func (s *recordingSink[R]) Complete(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completes++
	s.err = err
	s.emittedAtComplete = len(s.outcomes)
}

func (s *recordingSink[R]) values() []R {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]R, 0, len(s.outcomes))
	for _, o := range s.outcomes {
		out = append(out, o.Value)
	}
	return out
}

func (s *recordingSink[R]) snapshot() []dispatch.Outcome[R] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispatch.Outcome[R](nil), s.outcomes...)
}

func (s *recordingSink[R]) completion() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completes, s.err
}

// pendingCall is one dispatch a manualWorker has not completed yet.
type pendingCall[T, R any] struct {
	ctx  context.Context
	item T
	done dispatch.Completion[R]
}

// manualWorker parks every dispatch until the test completes it.
type manualWorker[T comparable, R any] struct {
	mu      sync.Mutex
	pending []pendingCall[T, R]
	got     []T
}

func (w *manualWorker[T, R]) Invoke(ctx context.Context, item T, done dispatch.Completion[R]) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, pendingCall[T, R]{ctx: ctx, item: item, done: done})
	w.got = append(w.got, item)
}

func (w *manualWorker[T, R]) received() []T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]T(nil), w.got...)
}

// take removes the pending dispatch of item. It panics if there is none.
func (w *manualWorker[T, R]) take(item T) pendingCall[T, R] {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, p := range w.pending {
		if p.item == item {
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			return p
		}
	}
	panic("no pending dispatch for item")
}

func (w *manualWorker[T, R]) finish(item T, result R, err error) {
	w.take(item).done(result, err)
}

func (w *manualWorker[T, R]) drainPending() []pendingCall[T, R] {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.pending
	w.pending = nil
	return out
}

func upper(_ context.Context, s string) (string, error) {
	return s + "!", nil
}
