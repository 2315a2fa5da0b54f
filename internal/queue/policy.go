package queue

import "github.com/roach88/tandem/internal/fault"

// Policy is a drain discipline over a queue's buffers.
//
// Next and Reset are called with the queue's buffer mutex held. They must not
// block and must not call back into the Queue.
type Policy interface {
	// Next selects the next unit to run, or returns false when there is no
	// more work. A policy hands a unit out with Buffers.Take; the queue runs
	// it after releasing the mutex.
	Next(b *Buffers) (*Unit, bool)

	// Reset rewinds the drain, if the discipline supports it.
	Reset(b *Buffers) error
}

// Buffers is the double-buffer state a Policy operates on.
type Buffers struct {
	a, b       []*Unit
	workingOnA bool // true: A is to-execute, B is to-modify
	executing  bool // a drain is in progress
	consumed   *Unit
}

// ToExecute returns the buffer currently being drained.
// The returned slice aliases internal state and must not be retained.
func (b *Buffers) ToExecute() []*Unit {
	if b.workingOnA {
		return b.a
	}
	return b.b
}

// ToModify returns the buffer currently receiving new units.
// The returned slice aliases internal state and must not be retained.
func (b *Buffers) ToModify() []*Unit {
	if b.workingOnA {
		return b.b
	}
	return b.a
}

// Swap flips which buffer is to-execute.
func (b *Buffers) Swap() {
	b.workingOnA = !b.workingOnA
}

// Settle swaps buffers if the to-execute buffer is empty and reports whether
// there is any work left to execute afterwards.
func (b *Buffers) Settle() bool {
	if len(b.ToExecute()) == 0 {
		b.Swap()
	}
	return len(b.ToExecute()) > 0
}

// Executing reports whether a drain is in progress.
func (b *Buffers) Executing() bool {
	return b.executing
}

// MarkExecuting records that a drain has started.
func (b *Buffers) MarkExecuting() {
	b.executing = true
}

// DropConsumed removes the unit handed out by the previous Take, if it is
// still at the head of the to-execute buffer. A consumed unit that was
// removed or cleared in the meantime leaves the buffers untouched.
func (b *Buffers) DropConsumed() {
	if b.consumed == nil {
		return
	}
	exec := b.execPtr()
	if len(*exec) > 0 && (*exec)[0] == b.consumed {
		*exec = popFront(*exec)
	}
	b.consumed = nil
}

// Take hands out the head of the to-execute buffer without removing it.
// Returns nil if the buffer is empty.
func (b *Buffers) Take() *Unit {
	exec := b.ToExecute()
	if len(exec) == 0 {
		return nil
	}
	b.consumed = exec[0]
	return b.consumed
}

// Len returns the number of units across both buffers.
func (b *Buffers) Len() int {
	return len(b.a) + len(b.b)
}

func (b *Buffers) execPtr() *[]*Unit {
	if b.workingOnA {
		return &b.a
	}
	return &b.b
}

func (b *Buffers) modPtr() *[]*Unit {
	if b.workingOnA {
		return &b.b
	}
	return &b.a
}

func (b *Buffers) add(u *Unit) {
	mod := b.modPtr()
	*mod = append(*mod, u)
}

// remove deletes the first instance of u, to-modify buffer first.
func (b *Buffers) remove(u *Unit) bool {
	if removeFirst(b.modPtr(), u) {
		return true
	}
	if removeFirst(b.execPtr(), u) {
		if b.consumed == u {
			b.consumed = nil
		}
		return true
	}
	return false
}

func (b *Buffers) contains(u *Unit) bool {
	return indexOf(b.a, u) >= 0 || indexOf(b.b, u) >= 0
}

func (b *Buffers) clear() {
	clear(b.a)
	clear(b.b)
	b.a = b.a[:0]
	b.b = b.b[:0]
	b.consumed = nil
}

// snapshot returns to-execute units followed by to-modify units.
func (b *Buffers) snapshot() []*Unit {
	out := make([]*Unit, 0, b.Len())
	out = append(out, b.ToExecute()...)
	return append(out, b.ToModify()...)
}

// popFront removes the first element, clearing its slot so the unit can be
// collected.
func popFront(s []*Unit) []*Unit {
	s[0] = nil
	if len(s) == 1 {
		return s[:0]
	}
	return s[1:]
}

func indexOf(s []*Unit, u *Unit) int {
	for i, v := range s {
		if v == u {
			return i
		}
	}
	return -1
}

func removeFirst(s *[]*Unit, u *Unit) bool {
	i := indexOf(*s, u)
	if i < 0 {
		return false
	}
	if i == 0 {
		*s = popFront(*s)
		return true
	}
	copy((*s)[i:], (*s)[i+1:])
	(*s)[len(*s)-1] = nil
	*s = (*s)[:len(*s)-1]
	return true
}

// Fifo drains each buffer in insertion order and flips buffers on exhaustion.
//
// Draining is destructive: consumed units are removed, so Reset is not
// supported.
type Fifo struct{}

// Next implements Policy.
func (Fifo) Next(b *Buffers) (*Unit, bool) {
	if !b.Settle() {
		return nil, false
	}

	// The head is the unit handed out by the previous pull; drop it now.
	if b.Executing() {
		b.DropConsumed()
	} else {
		b.MarkExecuting()
	}

	if !b.Settle() {
		return nil, false
	}
	return b.Take(), true
}

// Reset implements Policy. Always fails.
func (Fifo) Reset(*Buffers) error {
	return fault.InvalidOperation("cannot reset a fifo queue: draining is destructive")
}
