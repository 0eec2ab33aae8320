package dispatch

import "errors"

const Namespace = "dispatch"

var (
	// Fatal: internal invariants. A dispatcher that observes one of these aborts.
	ErrDuplicateSequence = errors.New(Namespace + ": duplicate sequence number in reorder buffer")
	ErrDoubleCompletion  = errors.New(Namespace + ": worker completed the same dispatch more than once")

	// ErrWorkerFailure is the root of every per-item failure delivered in an Outcome.
	ErrWorkerFailure = errors.New(Namespace + ": worker failed to produce a result")

	ErrIllegalAdmissionWhileBlocked = errors.New(
		Namespace + ": cannot admit an item while another one is held and no workers are registered",
	)

	ErrClosed          = errors.New(Namespace + ": dispatcher is closed")
	ErrDraining        = errors.New(Namespace + ": dispatcher is draining, no more items are accepted")
	ErrUnknownWorker   = errors.New(Namespace + ": worker is not registered")
	ErrNoWorkers       = errors.New(Namespace + ": no workers registered")
	ErrNilWorker       = errors.New(Namespace + ": worker is nil")
	ErrNilSink         = errors.New(Namespace + ": sink is nil")
	ErrInvalidConfig   = errors.New(Namespace + ": invalid configuration")
	ErrWorkerPanicked  = errors.New(Namespace + ": worker panicked")
	ErrSinkPanicked    = errors.New(Namespace + ": sink panicked while emitting")
	ErrWorkerCancelled = errors.New(Namespace + ": worker execution cancelled")
)
