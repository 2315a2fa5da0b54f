package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/fault"
)

func newTestQueue() *Queue {
	return NewFifo(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

// recorder collects unit IDs in invocation order.
type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) unit(id string) *Unit {
	return NewUnitWithID(id, func(context.Context) error {
		r.record(id)
		return nil
	})
}

func (r *recorder) record(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

func TestQueue_FIFOOrder(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}

	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		require.NoError(t, q.Add(rec.unit(id)))
	}
	assert.Equal(t, 4, q.Len())

	require.NoError(t, q.Execute(context.Background()))

	assert.Equal(t, []string{"u1", "u2", "u3", "u4"}, rec.got())
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.IsExecuting())
}

func TestQueue_ExactlyOnceAcrossCycles(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}

	require.NoError(t, q.Add(rec.unit("a")))
	require.NoError(t, q.Execute(context.Background()))

	require.NoError(t, q.Add(rec.unit("b")))
	require.NoError(t, q.Execute(context.Background()))
	require.NoError(t, q.Execute(context.Background()))

	assert.Equal(t, []string{"a", "b"}, rec.got())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_AddNil(t *testing.T) {
	q := newTestQueue()

	err := q.Add(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrInvalidArgument))

	err = q.Add(NewUnitWithID("empty", nil))
	assert.True(t, fault.IsInvalidArgument(err))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_AddRemoveRoundTrip(t *testing.T) {
	q := newTestQueue()
	var ran atomic.Bool
	u := NewUnit(func(context.Context) error {
		ran.Store(true)
		return nil
	})

	require.NoError(t, q.Add(u))
	assert.True(t, q.Contains(u))

	assert.True(t, q.Remove(u))
	assert.False(t, q.Contains(u))
	assert.False(t, q.Remove(u), "second remove finds nothing")

	require.NoError(t, q.Execute(context.Background()))
	assert.False(t, ran.Load(), "removed unit must not run")
}

func TestQueue_RemoveFirstInstanceOnly(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}
	u := rec.unit("dup")

	require.NoError(t, q.Add(u))
	require.NoError(t, q.Add(u))
	assert.Equal(t, 2, q.Len())

	assert.True(t, q.Remove(u))
	assert.Equal(t, 1, q.Len())
	assert.True(t, q.Contains(u))
}

func TestQueue_EmptyDrain(t *testing.T) {
	q := newTestQueue()
	var hooks int
	q.BeforeStart(func(*Queue, *Unit) { hooks++ }).
		AfterEnd(func(*Queue, *Unit) { hooks++ })

	more, err := q.MoveNext()
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.Current())
	assert.Equal(t, 0, hooks, "no lifecycle events without work")

	require.NoError(t, q.Execute(context.Background()))
	assert.Equal(t, 0, hooks)
}

func TestQueue_ManualPull(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}
	u1, u2 := rec.unit("u1"), rec.unit("u2")
	require.NoError(t, q.Add(u1))
	require.NoError(t, q.Add(u2))

	more, err := q.MoveNext()
	require.NoError(t, err)
	require.True(t, more)
	assert.Same(t, u1, q.Current())
	assert.Equal(t, 2, q.Len(), "consumed unit is removed by the next pull")

	more, err = q.MoveNext()
	require.NoError(t, err)
	require.True(t, more)
	assert.Same(t, u2, q.Current())
	assert.Equal(t, 1, q.Len())

	more, err = q.MoveNext()
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, []string{"u1", "u2"}, rec.got())
}

func TestQueue_AddedDuringDrainRunsAfterBuffer(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}

	first := NewUnitWithID("u1", func(context.Context) error {
		rec.record("u1")
		// Produce from another goroutine while this buffer is being drained.
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Add(rec.unit("v1"))
			_ = q.Add(rec.unit("v2"))
		}()
		wg.Wait()
		return nil
	})

	require.NoError(t, q.Add(first))
	require.NoError(t, q.Add(rec.unit("u2")))
	require.NoError(t, q.Add(rec.unit("u3")))

	require.NoError(t, q.Execute(context.Background()))

	assert.Equal(t, []string{"u1", "u2", "u3", "v1", "v2"}, rec.got())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_UnitCanAddToOwnQueue(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}

	require.NoError(t, q.Add(NewUnitWithID("parent", func(context.Context) error {
		rec.record("parent")
		return q.Add(rec.unit("child"))
	})))

	require.NoError(t, q.Execute(context.Background()))
	assert.Equal(t, []string{"parent", "child"}, rec.got())
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := newTestQueue()
	const producers = 8
	const perProducer = 100
	var executed atomic.Int64

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, q.Add(NewUnit(func(context.Context) error {
					executed.Add(1)
					return nil
				})))
			}
		}()
	}

	done := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			select {
			case <-done:
				return
			default:
				_ = q.Execute(context.Background())
			}
		}
	}()

	wg.Wait()
	close(done)
	<-drained

	require.NoError(t, q.Execute(context.Background()))
	assert.Equal(t, int64(producers*perProducer), executed.Load())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Stop(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}

	require.NoError(t, q.Add(NewUnitWithID("u1", func(context.Context) error {
		rec.record("u1")
		q.Stop()
		return nil
	})))
	require.NoError(t, q.Add(rec.unit("u2")))

	require.NoError(t, q.Execute(context.Background()))
	assert.Equal(t, []string{"u1"}, rec.got())
	assert.Equal(t, 1, q.Len(), "u1 consumed, u2 pending")
	assert.False(t, q.StopRequested(), "stop flag resets after the cycle")

	require.NoError(t, q.Execute(context.Background()))
	assert.Equal(t, []string{"u1", "u2"}, rec.got())
}

func TestQueue_CancelExecution(t *testing.T) {
	q := newTestQueue()
	var cycleErr error
	var secondCtxErr error

	require.NoError(t, q.Add(NewUnitWithID("u1", func(ctx context.Context) error {
		q.CancelExecution()
		cycleErr = ctx.Err()
		return nil
	})))
	require.NoError(t, q.Add(NewUnitWithID("u2", func(ctx context.Context) error {
		secondCtxErr = ctx.Err()
		return nil
	})))

	require.NoError(t, q.Execute(context.Background()))
	assert.ErrorIs(t, cycleErr, context.Canceled)
	assert.Equal(t, 1, q.Len())

	// A fresh cycle context is minted for the next cycle.
	require.NoError(t, q.Execute(context.Background()))
	assert.NoError(t, secondCtxErr)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ParentContextCancel(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Add(NewUnitWithID("u1", func(context.Context) error {
		rec.record("u1")
		cancel()
		return nil
	})))
	require.NoError(t, q.Add(rec.unit("u2")))

	err := q.Execute(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"u1"}, rec.got())

	err = q.Execute(ctx)
	assert.ErrorIs(t, err, context.Canceled, "a done context starts no cycle")
	assert.Equal(t, 1, q.Len())
}

func TestQueue_UnitErrorAbortsCycle(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}
	boom := errors.New("boom")

	require.NoError(t, q.Add(rec.unit("u1")))
	require.NoError(t, q.Add(NewUnitWithID("u2", func(context.Context) error {
		rec.record("u2")
		return boom
	})))
	require.NoError(t, q.Add(rec.unit("u3")))

	err := q.Execute(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "unit u2")
	assert.Equal(t, 1, q.Len(), "failed unit stays consumed")

	require.NoError(t, q.Execute(context.Background()))
	assert.Equal(t, []string{"u1", "u2", "u3"}, rec.got())
}

func TestQueue_ClearDuringDrain(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}
	var ctxErr error

	require.NoError(t, q.Add(NewUnitWithID("u1", func(ctx context.Context) error {
		rec.record("u1")
		q.Clear()
		ctxErr = ctx.Err()
		return nil
	})))
	require.NoError(t, q.Add(rec.unit("u2")))

	require.NoError(t, q.Execute(context.Background()))
	assert.Equal(t, []string{"u1"}, rec.got())
	assert.ErrorIs(t, ctxErr, context.Canceled)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ClearWhileIdleKeepsNextCycleLive(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}

	require.NoError(t, q.Add(rec.unit("dropped")))
	q.Clear()
	assert.NoError(t, q.Context().Err())

	require.NoError(t, q.Add(rec.unit("u1")))
	require.NoError(t, q.Add(rec.unit("u2")))
	require.NoError(t, q.Execute(context.Background()))
	assert.Equal(t, []string{"u1", "u2"}, rec.got())
}

func TestQueue_RemoveRunningUnit(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}
	var self *Unit
	self = NewUnitWithID("self", func(context.Context) error {
		rec.record("self")
		q.Remove(self)
		return nil
	})

	require.NoError(t, q.Add(self))
	require.NoError(t, q.Add(rec.unit("next")))

	require.NoError(t, q.Execute(context.Background()))
	assert.Equal(t, []string{"self", "next"}, rec.got(), "removing the running unit must not skip its successor")
}

func TestQueue_Reset(t *testing.T) {
	q := newTestQueue()

	err := q.Reset()
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrInvalidOperation))
}

func TestQueue_CopyTo(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}
	u1, u2 := rec.unit("u1"), rec.unit("u2")
	require.NoError(t, q.Add(u1))
	require.NoError(t, q.Add(u2))

	dst := make([]*Unit, 3)
	require.NoError(t, q.CopyTo(dst, 1))
	assert.Nil(t, dst[0])
	assert.Same(t, u1, dst[1])
	assert.Same(t, u2, dst[2])

	err := q.CopyTo(make([]*Unit, 2), 1)
	assert.True(t, fault.IsCapacity(err))

	err = q.CopyTo(dst, -1)
	assert.True(t, fault.IsInvalidArgument(err))
}

func TestQueue_CopyToOrdersExecuteBufferFirst(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}
	u1, u2, late := rec.unit("u1"), rec.unit("u2"), rec.unit("late")
	require.NoError(t, q.Add(u1))
	require.NoError(t, q.Add(u2))

	// First pull swaps u1,u2 into the to-execute buffer.
	_, err := q.MoveNext()
	require.NoError(t, err)
	require.NoError(t, q.Add(late))

	dst := make([]*Unit, 3)
	require.NoError(t, q.CopyTo(dst, 0))
	assert.Equal(t, []*Unit{u1, u2, late}, dst)
	assert.Equal(t, dst, q.Snapshot())
}

func TestQueue_LifecycleHooks(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}
	var events []string

	same := q.BeforeStart(func(_ *Queue, u *Unit) { events = append(events, "start:"+u.ID) }).
		BeforeStep(func(_ *Queue, u *Unit) { events = append(events, "before:"+u.ID) }).
		AfterStep(func(_ *Queue, u *Unit) { events = append(events, "after:"+u.ID) }).
		AfterEnd(func(_ *Queue, u *Unit) { events = append(events, "end:"+u.ID) })
	assert.Same(t, q, same, "registration chains")

	require.NoError(t, q.Add(rec.unit("a")))
	require.NoError(t, q.Add(rec.unit("b")))
	require.NoError(t, q.Execute(context.Background()))

	assert.Equal(t, []string{
		"start:a",
		"before:a", "after:a",
		"before:b", "after:b",
		"end:b",
	}, events)
}

func TestQueue_AfterEndOnStoppedCycle(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}
	var ends int
	q.AfterEnd(func(*Queue, *Unit) { ends++ })

	require.NoError(t, q.Add(NewUnitWithID("u1", func(context.Context) error {
		q.Stop()
		return nil
	})))
	require.NoError(t, q.Add(rec.unit("u2")))

	require.NoError(t, q.Execute(context.Background()))
	assert.Equal(t, 1, ends)

	require.NoError(t, q.Execute(context.Background()))
	assert.Equal(t, 2, ends)
}

func TestQueue_AfterEndCanRedrain(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}
	var (
		ends          int
		executingSeen []bool
		redrainErr    error
	)
	q.AfterEnd(func(q *Queue, _ *Unit) {
		ends++
		executingSeen = append(executingSeen, q.IsExecuting())
		if ends == 1 {
			redrainErr = q.Add(rec.unit("u2"))
			if redrainErr == nil {
				redrainErr = q.Execute(context.Background())
			}
		}
	})
	require.NoError(t, q.Add(rec.unit("u1")))

	done := make(chan error, 1)
	go func() { done <- q.Execute(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Execute from an AfterEnd handler did not return")
	}

	require.NoError(t, redrainErr)
	assert.Equal(t, []string{"u1", "u2"}, rec.got())
	assert.Equal(t, 2, ends)
	assert.Equal(t, []bool{false, false}, executingSeen)
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.IsExecuting())
}

func TestQueue_AfterEndOnManualPull(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}
	var last *Unit
	var pulled bool
	q.AfterEnd(func(q *Queue, u *Unit) {
		last = u
		more, err := q.MoveNext()
		pulled = err == nil && !more
	})
	u1 := rec.unit("u1")
	require.NoError(t, q.Add(u1))

	more, err := q.MoveNext()
	require.NoError(t, err)
	require.True(t, more)

	more, err = q.MoveNext()
	require.NoError(t, err)
	assert.False(t, more)
	assert.Same(t, u1, last)
	assert.True(t, pulled, "a pull from AfterEnd sees an idle, empty queue")
	assert.NoError(t, q.Context().Err())
}

func TestQueue_ChangeNotifications(t *testing.T) {
	q := newTestQueue()
	var changes []Change
	q.OnChange(func(c Change) { changes = append(changes, c) })

	u := NewUnitWithID("u", func(context.Context) error { return nil })
	stranger := NewUnitWithID("stranger", func(context.Context) error { return nil })

	require.NoError(t, q.Add(u))
	q.Remove(stranger)
	q.Remove(u)
	q.Clear()

	require.Len(t, changes, 3)
	assert.Equal(t, Change{Kind: ChangeAdded, Unit: u}, changes[0])
	assert.Equal(t, Change{Kind: ChangeRemoved, Unit: u}, changes[1])
	assert.Equal(t, ChangeReset, changes[2].Kind)
	assert.Nil(t, changes[2].Unit)
}

func TestQueue_ListenerMayReadQueue(t *testing.T) {
	q := newTestQueue()
	var seen int
	q.OnChange(func(Change) { seen = q.Len() })

	require.NoError(t, q.Add(NewUnit(func(context.Context) error { return nil })))
	assert.Equal(t, 1, seen)
}

func TestQueue_ExecuteAsync(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}
	release := make(chan struct{})

	require.NoError(t, q.Add(NewUnitWithID("slow", func(context.Context) error {
		<-release
		rec.record("slow")
		return nil
	})))

	task := q.ExecuteAsync(context.Background())

	select {
	case <-task.Done():
		t.Fatal("task finished before its unit was released")
	case <-time.After(10 * time.Millisecond):
	}

	close(release)
	require.NoError(t, task.Wait())

	select {
	case <-task.Done():
	default:
		t.Fatal("Done not closed after Wait")
	}
	assert.Equal(t, []string{"slow"}, rec.got())
}

func TestQueue_ExecuteAsyncError(t *testing.T) {
	q := newTestQueue()
	boom := errors.New("boom")
	require.NoError(t, q.Add(NewUnit(func(context.Context) error { return boom })))

	err := q.ExecuteAsync(context.Background()).Wait()
	assert.ErrorIs(t, err, boom)
}

func TestQueue_Close(t *testing.T) {
	q := newTestQueue()
	require.NoError(t, q.Add(NewUnit(func(context.Context) error { return nil })))

	q.Close()
	assert.Equal(t, 0, q.Len())
	assert.True(t, q.StopRequested())
}

func TestNewUnit_AssignsUUIDv7(t *testing.T) {
	a := NewUnit(func(context.Context) error { return nil })
	b := NewUnit(func(context.Context) error { return nil })

	assert.Len(t, a.ID, 36)
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotSame(t, a, b)
}
