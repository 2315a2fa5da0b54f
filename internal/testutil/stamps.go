package testutil

import "sync"

// StampLog is a trace.Stamper for tests. It hands out event sequence numbers
// from a chosen origin and keeps every stamp it issued, so a test can check
// which events were stamped and replay a recorder with identical stamps
// after Rewind.
//
// Thread-safety: All methods are safe for concurrent use.
type StampLog struct {
	mu     sync.Mutex
	origin int64
	last   int64
	issued []int64
}

// NewStampLog creates a log whose first stamp is 1.
func NewStampLog() *StampLog {
	return NewStampLogAt(0)
}

// NewStampLogAt creates a log whose first stamp is origin+1, matching
// trace.NewClockAt.
func NewStampLogAt(origin int64) *StampLog {
	return &StampLog{origin: origin, last: origin}
}

// Next issues the next stamp.
func (l *StampLog) Next() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last++
	l.issued = append(l.issued, l.last)
	return l.last
}

// Issued returns the stamps handed out since creation or the last Rewind,
// in issue order.
func (l *StampLog) Issued() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int64, len(l.issued))
	copy(out, l.issued)
	return out
}

// Rewind returns the log to its origin and forgets the issued stamps.
func (l *StampLog) Rewind() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = l.origin
	l.issued = l.issued[:0]
}
