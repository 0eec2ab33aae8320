// Package pool provides reusable element pools used to bound or recycle
// worker executors.
package pool

import "context"

// Pool hands out elements and takes them back.
type Pool[T any] interface {
	// Get returns an element, waiting for one if the pool is bounded and exhausted.
	// It fails with ctx.Err() if ctx is done first.
	Get(ctx context.Context) (T, error)

	// Put returns an element obtained from Get.
	Put(el T)
}
