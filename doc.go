// Package dispatch hands a stream of items to a dynamic set of asynchronous
// workers in round-robin order and emits their results in admission order.
//
// Constructors
//   - New(ctx, sink, opts...): a Dispatcher writing ordered outcomes to a Sink.
//   - NewPipe(ctx, in, opts...): reads items from a channel and exposes the
//     ordered outcomes as a channel.
//   - Map(ctx, items, workers, opts...): one-shot helper returning results in input order.
//
// Workers
// A Worker receives an item together with a completion callback and must call it
// exactly once, from any goroutine, at any time. Func adapts a blocking function
// (optionally capped with WithConcurrency), Inline adapts a function that
// completes synchronously.
//
// Admission modes
// The admission mode follows the number of registered workers:
//   - ModeBlocked (0 workers): the first admitted item is held and dispatched by
//     the next Register; any further admission fails with
//     ErrIllegalAdmissionWhileBlocked. WaitReady blocks until admitting is legal again.
//   - ModeSingle (1 worker): every item goes to that worker.
//   - ModeRoundRobin (2+ workers): workers receive items in registration order, cyclically.
//
// Ordering
// Every admitted item gets a sequence number. Outcomes are emitted strictly by
// sequence number, each exactly once, including failed items (as an *ItemError
// wrapping ErrWorkerFailure). A slow item delays the emission of later ones but
// never their dispatch.
//
// Lifecycle
// Idle -> Dispatching -> Draining -> Closed. Flush stops admissions and completes
// the sink once every pending item has been emitted; Close additionally waits for
// it. A fatal error (duplicate sequence, double completion, or a failure with
// WithFailFast) closes the dispatcher early and is passed to Sink.Complete.
//
// Defaults
//   - Name: "dispatch"
//   - Logger: discards everything
//   - Metrics: metrics.NoopProvider
//   - Tracer: the global OpenTelemetry tracer provider
//   - FailFast, StrictAdmission: false
//   - OutcomesBuffer (Pipe): 1024
package dispatch
