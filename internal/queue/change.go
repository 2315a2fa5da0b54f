package queue

// ChangeKind distinguishes collection change notifications.
type ChangeKind int

const (
	// ChangeReset indicates the queue was cleared.
	ChangeReset ChangeKind = iota + 1
	// ChangeAdded indicates a unit was added.
	ChangeAdded
	// ChangeRemoved indicates a unit was removed by Remove.
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeReset:
		return "reset"
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is a collection change notification. Unit is nil for ChangeReset.
//
// Units consumed by a drain do not produce notifications.
type Change struct {
	Kind ChangeKind
	Unit *Unit
}
