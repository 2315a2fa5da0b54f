package queue

import (
	"context"

	"github.com/google/uuid"
)

// Func is the body of a queued unit of work.
// The context is the drain cycle's context; it is cancelled by
// CancelExecution, Clear, or cancellation of the context passed to Execute.
type Func func(ctx context.Context) error

// Unit is a unit of work held by a Queue.
//
// Units are compared by pointer identity: two units wrapping the same function
// are distinct. Create units with NewUnit.
type Unit struct {
	// ID identifies the unit in logs and traces. Not used for equality.
	ID string

	fn Func
}

// NewUnit wraps fn in a Unit with a time-sortable UUIDv7 ID.
func NewUnit(fn Func) *Unit {
	return NewUnitWithID(uuid.Must(uuid.NewV7()).String(), fn)
}

// NewUnitWithID wraps fn in a Unit with the given ID.
// Useful when IDs come from a plan file or must be deterministic in tests.
func NewUnitWithID(id string, fn Func) *Unit {
	return &Unit{ID: id, fn: fn}
}

// Run invokes the unit's function.
func (u *Unit) Run(ctx context.Context) error {
	return u.fn(ctx)
}

// valid reports whether the unit can be queued.
func (u *Unit) valid() bool {
	return u != nil && u.fn != nil
}
