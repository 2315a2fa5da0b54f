// Package queue implements a double-buffered, cancellable action queue.
//
// ARCHITECTURE:
//
// Double Buffering:
// The queue owns two buffers. At any instant one is the "to-execute" buffer
// (drained by MoveNext) and the other is the "to-modify" buffer (receives
// Add). When the to-execute buffer is exhausted the selector flips. Producers
// can therefore keep adding work while a drain is in progress without
// invalidating the drain's position: new work surfaces only after the buffer
// being drained is empty.
//
// Deferred Removal:
// A pull does not remove the unit it hands out. The unit stays at the head of
// the to-execute buffer while it runs and is removed by the following pull
// (or when Execute finishes the cycle). A unit is consumed exactly once.
//
// Drain Policies:
// The step logic lives behind the Policy interface. Fifo is the only policy
// shipped; it gives strict insertion order within a buffer and round-robin
// order across the two buffers.
//
// Cancellation:
// Each drain cycle has its own context. CancelExecution cancels it, Stop only
// requests a cooperative stop; both are observed between pulls, never in the
// middle of a running unit. Execute mints a fresh cycle context when it
// returns, so a cancelled queue can be reused.
//
// Thread-safety:
//   - Add, Remove, Clear, Contains, CopyTo, Len: safe from any goroutine
//   - MoveNext, Execute: pulls are serialized by a drain mutex
//   - Units and lifecycle handlers run without the buffer mutex held, so they
//     may call Add/Remove on the same queue
//   - AfterEnd handlers also run without the drain mutex and after the cycle
//     has been reset, so they may call MoveNext or Execute
package queue
