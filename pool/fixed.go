package pool

import "context"

// fixed creates at most capacity elements. Each creation consumes a token;
// once tokens run out, Get waits for an element to be Put back.
type fixed[T any] struct {
	available chan T
	tokens    chan struct{}
	newFn     func() T
}

// NewFixed returns a pool that never holds more than capacity elements at once.
// With capacity 0 every Get waits until its context is done.
func NewFixed[T any](capacity uint, newFn func() T) Pool[T] {
	p := &fixed[T]{
		available: make(chan T, capacity),
		tokens:    make(chan struct{}, capacity),
		newFn:     newFn,
	}
	for i := uint(0); i < capacity; i++ {
		p.tokens <- struct{}{}
	}
	return p
}

func (p *fixed[T]) Get(ctx context.Context) (T, error) {
	// Prefer reuse over creation.
	select {
	case el := <-p.available:
		return el, nil
	default:
	}

	select {
	case el := <-p.available:
		return el, nil
	case <-p.tokens:
		return p.newFn(), nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Put never blocks: at most capacity elements exist.
func (p *fixed[T]) Put(el T) {
	p.available <- el
}
