package dispatch

import (
	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// Mode is the admission mode derived from the number of registered workers.
type Mode int

const (
	// ModeBlocked: no workers. At most one admitted item is held until a worker registers.
	ModeBlocked Mode = iota
	// ModeSingle: one worker receives every item.
	ModeSingle
	// ModeRoundRobin: two or more workers take items in rotation.
	ModeRoundRobin
)

func (m Mode) String() string {
	switch m {
	case ModeBlocked:
		return "blocked"
	case ModeSingle:
		return "single"
	case ModeRoundRobin:
		return "round-robin"
	default:
		return "unknown"
	}
}

func modeFor(n int) Mode {
	switch {
	case n == 0:
		return ModeBlocked
	case n == 1:
		return ModeSingle
	default:
		return ModeRoundRobin
	}
}

type registeredWorker[T, R any] struct {
	id     WorkerID
	worker Worker[T, R]
}

// registry keeps the registered workers in rotation order.
//
// The rotation queue may still hold ids that were removed after being queued
// (stale entries); next skips them. Stale entries are compacted away once they
// outnumber the live ones, so rotation stays O(1) amortized.
//
// Not safe for concurrent use; guarded by the dispatcher state lock.
type registry[T, R any] struct {
	live     map[WorkerID]*registeredWorker[T, R]
	rotation *linkedlistqueue.Queue
	stale    int
}

func newRegistry[T, R any]() *registry[T, R] {
	return &registry[T, R]{
		live:     make(map[WorkerID]*registeredWorker[T, R]),
		rotation: linkedlistqueue.New(),
	}
}

// add appends the worker to the tail of the rotation.
func (r *registry[T, R]) add(id WorkerID, w Worker[T, R]) {
	r.live[id] = &registeredWorker[T, R]{id: id, worker: w}
	r.rotation.Enqueue(id)
}

func (r *registry[T, R]) remove(id WorkerID) error {
	if _, ok := r.live[id]; !ok {
		return ErrUnknownWorker
	}
	delete(r.live, id)

	if len(r.live) == 0 {
		r.rotation.Clear()
		r.stale = 0
		return nil
	}
	r.stale++
	if r.stale > len(r.live) {
		r.compact()
	}
	return nil
}

func (r *registry[T, R]) count() int { return len(r.live) }

func (r *registry[T, R]) mode() Mode { return modeFor(len(r.live)) }

// next returns the worker for the next dispatch and moves it to the tail.
// With a single worker it is returned as is. Calling next with no workers
// registered is a programming error.
func (r *registry[T, R]) next() *registeredWorker[T, R] {
	switch len(r.live) {
	case 0:
		panic(ErrNoWorkers)
	case 1:
		for _, w := range r.live {
			return w
		}
	}

	for {
		v, ok := r.rotation.Dequeue()
		if !ok {
			panic(ErrNoWorkers)
		}
		id := v.(WorkerID)
		w, ok := r.live[id]
		if !ok {
			r.stale--
			continue
		}
		r.rotation.Enqueue(id)
		return w
	}
}

// ids returns the live worker ids in rotation order, head first.
func (r *registry[T, R]) ids() []WorkerID {
	out := make([]WorkerID, 0, len(r.live))
	for _, v := range r.rotation.Values() {
		id := v.(WorkerID)
		if _, ok := r.live[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (r *registry[T, R]) compact() {
	ids := r.ids()
	r.rotation.Clear()
	for _, id := range ids {
		r.rotation.Enqueue(id)
	}
	r.stale = 0
}
