package sequence

import "github.com/roach88/tandem/internal/fault"

// quota bounds the number of pulls one Execute call may make.
//
// A sequence graph may be cyclic, so a traversal that never reaches End
// would otherwise run forever. A limit of zero disables the check.
type quota struct {
	limit   int
	current int
}

// check counts one pull and reports a STEPS_EXCEEDED error once the count
// passes the limit.
func (q *quota) check() error {
	q.current++
	if q.limit > 0 && q.current > q.limit {
		return fault.StepsExceeded(q.current, q.limit)
	}
	return nil
}
