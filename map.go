package dispatch

import (
	"context"
	"errors"
	"sync"
)

// Map dispatches items over the given workers and returns the successful results
// in input order, together with errors.Join of the per-item failures (each an
// *ItemError carrying the item's Seq, which equals its index in items).
//
// Semantics:
//   - Workers are registered in order, so with W workers item i goes to worker i mod W.
//   - With WithFailFast, admission stops at the first failure reaching the output and
//     the results emitted before it are returned.
//   - If ctx is done before every item was emitted, the results gathered so far are
//     returned with ctx.Err() joined to the failures.
func Map[T, R any](ctx context.Context, items []T, workers []Worker[T, R], opts ...Option) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if len(workers) == 0 {
		return nil, ErrNoWorkers
	}

	c := &collector[R]{results: make([]R, 0, len(items))}
	d, err := New[T, R](ctx, c, opts...)
	if err != nil {
		return nil, err
	}

	for _, w := range workers {
		if _, err := d.Register(w); err != nil {
			return nil, err
		}
	}
	for _, item := range items {
		if err := d.Admit(item); err != nil {
			// the dispatcher aborted; its cause is reported by Close
			break
		}
	}

	closeErr := d.Close(ctx)
	return c.collect(closeErr)
}

// collector is the Sink used by Map.
type collector[R any] struct {
	mu      sync.Mutex
	results []R
	errs    []error
}

func (c *collector[R]) Emit(o Outcome[R]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o.Err != nil {
		c.errs = append(c.errs, o.Err)
		return
	}
	c.results = append(c.results, o.Value)
}

func (c *collector[R]) Complete(error) {}

func (c *collector[R]) collect(closeErr error) ([]R, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	results := append([]R(nil), c.results...)
	errs := append([]error(nil), c.errs...)
	// With fail-fast the fatal cause is the failure already collected.
	if closeErr != nil && !containsErr(errs, closeErr) {
		errs = append(errs, closeErr)
	}
	return results, errors.Join(errs...)
}

func containsErr(errs []error, target error) bool {
	for _, e := range errs {
		if e == target {
			return true
		}
	}
	return false
}
