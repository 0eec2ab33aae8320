package dispatch

// Ordering contract
//
// Responsibility:
// - Emit one Outcome per admitted item strictly in admission order, whatever order
//   the workers finish in.
//
// Bookkeeping:
// - sequencer: stamps every admitted item with the next Seq (0, 1, 2, ...). A held
//   item (ModeBlocked) is stamped at admission, not when it is finally dispatched.
// - reorderBuffer: a min-heap of completed outcomes keyed by Seq plus the cursor
//   `next`, the smallest Seq not yet released.
//
// Semantics:
// - On each completion the outcome is inserted, then drainReady releases outcomes
//   while the heap minimum equals `next`, advancing `next` by one per release.
// - Failures take their position like results: an Outcome with Err set is emitted
//   at its Seq so the consumer can tell success from failure per position.
// - Latency of an outcome is bounded by the slowest earlier item (head-of-line
//   blocking). This is required for ordering.
//
// Edge cases:
// - An outcome for a Seq that is buffered or already released is rejected with
//   ErrDuplicateSequence. Sequence numbers are unique, so this means a bug; the
//   dispatcher aborts.
// - A second call to a Completion is caught before it reaches the buffer and
//   aborts with ErrDoubleCompletion.
// - On abort nothing more is emitted, even if later outcomes were buffered.
//
// Concurrency contracts:
// - Insert and drain happen under the dispatcher state lock, together with the
//   in-flight count update. Drained outcomes are appended to an outbox under the
//   same lock, so the outbox order is the sequence order.
// - One goroutine at a time delivers the outbox to Sink.Emit without holding the
//   lock, so emission order is total and a slow sink does not stall accessors.
//   Admit and Register hold back emission until their admission lock is released.
// - Sink.Complete and flush callbacks run once the outbox is delivered, or right
//   away on abort, when the outbox is dropped.
// - A panic in Sink.Emit aborts with ErrSinkPanicked and is propagated.
