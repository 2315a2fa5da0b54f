package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/tandem/internal/fault"
	"github.com/roach88/tandem/internal/lifecycle"
)

// Handler is a lifecycle callback. u is the unit the event refers to; it is
// the last consumed unit for AfterEnd, or nil if none was consumed.
type Handler func(q *Queue, u *Unit)

// Queue is the double-buffered action queue engine.
//
// INVARIANTS:
//   - exactly one buffer is to-execute and the other is to-modify
//   - Len() == len(bufA) + len(bufB)
//   - a unit lives in at most one buffer
//   - the cycle context is replaced after every drain cycle
type Queue struct {
	mu      sync.Mutex // guards everything below except hooks and listeners
	drainMu sync.Mutex // serializes pulls

	buf           Buffers
	policy        Policy
	current       *Unit
	stopRequested bool

	cycleCtx context.Context
	cancel   context.CancelFunc

	hooks lifecycle.Bus[Handler]

	listenMu  sync.RWMutex
	listeners []func(Change)

	logger *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithPolicy sets the drain policy. Default: Fifo.
func WithPolicy(p Policy) Option {
	return func(q *Queue) {
		q.policy = p
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		policy: Fifo{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.cycleCtx, q.cancel = context.WithCancel(context.Background())
	return q
}

// NewFifo creates an empty queue with the Fifo policy.
func NewFifo(opts ...Option) *Queue {
	return New(append([]Option{WithPolicy(Fifo{})}, opts...)...)
}

// Add appends u to the to-modify buffer.
// Returns an INVALID_ARGUMENT error if u is nil or has no function.
func (q *Queue) Add(u *Unit) error {
	if !u.valid() {
		return fault.InvalidArgument("cannot add a nil unit to the queue")
	}

	q.mu.Lock()
	q.buf.add(u)
	q.mu.Unlock()

	q.notify(Change{Kind: ChangeAdded, Unit: u})
	return nil
}

// Remove deletes the first instance of u, searching the to-modify buffer
// before the to-execute buffer. Returns true if a unit was removed.
func (q *Queue) Remove(u *Unit) bool {
	if u == nil {
		return false
	}

	q.mu.Lock()
	removed := q.buf.remove(u)
	q.mu.Unlock()

	if removed {
		q.notify(Change{Kind: ChangeRemoved, Unit: u})
	}
	return removed
}

// Clear cancels any in-flight drain cycle and empties both buffers.
//
// The running unit, if any, observes the cancellation through its context.
// When no drain is in progress the cycle context is replaced immediately so
// the next Execute starts uncancelled.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.cancel()
	q.buf.clear()
	if !q.buf.executing {
		q.cycleCtx, q.cancel = context.WithCancel(context.Background())
	}
	q.mu.Unlock()

	q.notify(Change{Kind: ChangeReset})
}

// Contains reports whether u is in either buffer.
func (q *Queue) Contains(u *Unit) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.contains(u)
}

// Len returns the number of units across both buffers.
// The unit currently running is still counted until the next pull.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Len()
}

// CopyTo copies all units into dst starting at index: the to-execute buffer
// first, then the to-modify buffer.
// Returns a CAPACITY error if dst cannot hold them.
func (q *Queue) CopyTo(dst []*Unit, index int) error {
	if index < 0 {
		return fault.InvalidArgument(fmt.Sprintf("negative copy index %d", index))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.buf.Len()
	if len(dst)-index < n {
		return fault.Capacity(n, len(dst)-index)
	}
	index += copy(dst[index:], q.buf.ToExecute())
	copy(dst[index:], q.buf.ToModify())
	return nil
}

// Snapshot returns the queued units in drain order.
func (q *Queue) Snapshot() []*Unit {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.snapshot()
}

// Current returns the unit handed out by the most recent successful pull.
func (q *Queue) Current() *Unit {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// IsExecuting reports whether a drain cycle is in progress.
func (q *Queue) IsExecuting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.executing
}

// StopRequested reports whether Stop or CancelExecution was called during the
// current cycle.
func (q *Queue) StopRequested() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopRequested
}

// Context returns the current drain cycle's context.
func (q *Queue) Context() context.Context {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cycleCtx
}

// MoveNext pulls the next unit from the policy and runs it.
//
// Returns false when the policy reports no more work. A pull that finds no
// more work after a drain started ends the cycle before AfterEnd fires, and
// AfterEnd runs with both mutexes released. An error returned by the unit aborts the pull; the unit stays
// consumed.
func (q *Queue) MoveNext() (bool, error) {
	q.drainMu.Lock()

	q.mu.Lock()
	wasExecuting := q.buf.executing
	u, ok := q.policy.Next(&q.buf)
	started := !wasExecuting && q.buf.executing
	ctx := q.cycleCtx

	last := q.current
	ended := !ok && q.buf.executing
	if ok {
		q.current = u
	} else if ended {
		q.endCycleLocked()
	}
	q.mu.Unlock()

	if !ok {
		q.drainMu.Unlock()
		if ended {
			q.fire(lifecycle.AfterEnd, last)
		}
		return false, nil
	}
	defer q.drainMu.Unlock()

	if started {
		q.fire(lifecycle.BeforeStart, u)
	}
	q.fire(lifecycle.BeforeStep, u)

	q.logger.Debug("running unit", "unit", u.ID)
	if err := u.Run(ctx); err != nil {
		return false, fmt.Errorf("unit %s: %w", u.ID, err)
	}

	q.fire(lifecycle.AfterStep, u)
	return true, nil
}

// Reset rewinds the drain through the policy.
// Fifo queues return an INVALID_OPERATION error.
func (q *Queue) Reset() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.policy.Reset(&q.buf)
}

// Execute runs one drain cycle: it pulls until there is no more work, a stop
// is requested, or the cycle is cancelled (by CancelExecution, Clear, or ctx).
//
// Returns the first unit error, ctx.Err() if ctx ended the cycle, or nil.
// When it returns, the drain flags are reset, a unit consumed by the last pull
// is removed, and a fresh cycle context is in place.
func (q *Queue) Execute(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Bind to this cycle's cancel func; a late callback must not cancel the
	// context minted when the cycle ends.
	q.mu.Lock()
	cycle, cancelCycle := q.cycleCtx, q.cancel
	q.mu.Unlock()
	stop := context.AfterFunc(ctx, cancelCycle)
	defer stop()

	steps := 0
	var runErr error
	for {
		more, err := q.MoveNext()
		if err != nil {
			runErr = err
			break
		}
		if !more {
			break
		}
		steps++
		if q.interrupted() || ctx.Err() != nil {
			break
		}
	}

	stopped := q.finishCycle(cycle)

	if runErr != nil {
		q.logger.Error("drain cycle aborted", "steps", steps, "error", runErr)
		return runErr
	}
	q.logger.Debug("drain cycle finished", "steps", steps, "stopped", stopped)
	return ctx.Err()
}

// ExecuteAsync runs Execute on a background goroutine.
func (q *Queue) ExecuteAsync(ctx context.Context) *Task {
	t := &Task{done: make(chan struct{})}
	t.group.Go(func() error {
		defer close(t.done)
		return q.Execute(ctx)
	})
	return t
}

// CancelExecution cancels the current cycle's context and requests a stop.
// Does not wait for the running unit to return.
func (q *Queue) CancelExecution() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancel()
	q.stopRequested = true
}

// Stop requests a cooperative stop, observed after the running unit returns.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopRequested = true
}

// Close cancels execution and clears the queue.
func (q *Queue) Close() {
	q.CancelExecution()
	q.Clear()
}

// BeforeStart registers h to run before the first unit of a drain cycle.
func (q *Queue) BeforeStart(h Handler) *Queue {
	q.hooks.Add(lifecycle.BeforeStart, h)
	return q
}

// BeforeStep registers h to run before each unit.
func (q *Queue) BeforeStep(h Handler) *Queue {
	q.hooks.Add(lifecycle.BeforeStep, h)
	return q
}

// AfterStep registers h to run after each unit that returns without error.
func (q *Queue) AfterStep(h Handler) *Queue {
	q.hooks.Add(lifecycle.AfterStep, h)
	return q
}

// AfterEnd registers h to run once a drain cycle has ended.
// The cycle is fully finished when h runs, so h may start another drain.
func (q *Queue) AfterEnd(h Handler) *Queue {
	q.hooks.Add(lifecycle.AfterEnd, h)
	return q
}

// OnChange registers a change-notification listener.
// Listeners run synchronously after the mutation, without the buffer mutex.
func (q *Queue) OnChange(fn func(Change)) *Queue {
	q.listenMu.Lock()
	defer q.listenMu.Unlock()
	q.listeners = append(q.listeners, fn)
	return q
}

func (q *Queue) fire(stage lifecycle.Stage, u *Unit) {
	for _, h := range q.hooks.Handlers(stage) {
		h(q, u)
	}
}

func (q *Queue) notify(c Change) {
	q.listenMu.RLock()
	ls := make([]func(Change), len(q.listeners))
	copy(ls, q.listeners)
	q.listenMu.RUnlock()

	for _, fn := range ls {
		fn(c)
	}
}

func (q *Queue) interrupted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopRequested || q.cycleCtx.Err() != nil
}

// finishCycle ends the drain cycle bound to ctx if it is still the current
// one, then fires AfterEnd outside both mutexes. A cycle that already ended
// on a pull, or was replaced by an idle Clear, is left alone so a cycle
// started from an AfterEnd handler is not disturbed.
// Reports whether the cycle ended early.
func (q *Queue) finishCycle(ctx context.Context) bool {
	q.drainMu.Lock()
	q.mu.Lock()
	if q.cycleCtx != ctx {
		q.mu.Unlock()
		q.drainMu.Unlock()
		return false
	}
	stopped := q.stopRequested || q.cycleCtx.Err() != nil
	ended := q.buf.executing
	last := q.current
	q.endCycleLocked()
	q.mu.Unlock()
	q.drainMu.Unlock()

	if ended {
		q.fire(lifecycle.AfterEnd, last)
	}
	return stopped
}

// endCycleLocked resets the drain state and mints a fresh cycle context.
// Callers hold both mutexes.
func (q *Queue) endCycleLocked() {
	if q.buf.executing {
		q.buf.DropConsumed()
	}
	q.buf.executing = false
	q.stopRequested = false
	q.current = nil

	q.cancel()
	q.cycleCtx, q.cancel = context.WithCancel(context.Background())
}
