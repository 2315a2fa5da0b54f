package sequence

import (
	"fmt"

	"github.com/roach88/tandem/internal/fault"
	"github.com/roach88/tandem/internal/lifecycle"
)

// Cursor walks a Sequence from Start to End following each action's Next key.
//
// A Cursor is bound to the version of the sequence at creation. It is not
// safe for concurrent use; Reset may be called from a lifecycle handler
// running inside MoveNext.
type Cursor[K comparable] struct {
	seq     *Sequence[K]
	version uint64

	key     K
	current Action[K]
	started bool
	rewound bool
}

// Cursor creates a cursor positioned at Start.
// Returns a KEY_NOT_FOUND error if Start is absent.
func (s *Sequence[K]) Cursor() (*Cursor[K], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, err := s.lookupLocked(s.start)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	return &Cursor[K]{
		seq:     s,
		version: s.version,
		key:     s.start,
		current: a,
	}, nil
}

// Key returns the key of the current position.
func (c *Cursor[K]) Key() K {
	return c.key
}

// Current returns the action at the current position.
func (c *Cursor[K]) Current() Action[K] {
	return c.current
}

// MoveNext runs the action at the current position and advances.
//
// Returns false after the End action has run. Errors:
//   - CONCURRENT_MODIFICATION if the sequence changed since the cursor was made
//   - KEY_NOT_FOUND if the current key, Start or End is absent
//   - the action's own error, wrapped with its key
func (c *Cursor[K]) MoveNext() (bool, error) {
	s := c.seq

	s.mu.RLock()
	if s.version != c.version {
		s.mu.RUnlock()
		return false, fault.ConcurrentModification("the sequence changed while iterating over it")
	}
	start, end := s.start, s.end

	var startAction Action[K]
	atStart := c.key == start
	if atStart {
		a, err := s.lookupLocked(start)
		if err != nil {
			s.mu.RUnlock()
			return false, fmt.Errorf("start: %w", err)
		}
		startAction = a
	}

	// The first pull uses the action fetched at creation (or Reset).
	if c.started {
		a, err := s.lookupLocked(c.key)
		if err != nil {
			s.mu.RUnlock()
			return false, err
		}
		c.current = a
	} else {
		c.started = true
	}
	s.mu.RUnlock()

	c.rewound = false
	key, cur := c.key, c.current

	if atStart {
		s.fire(lifecycle.BeforeStart, start, startAction)
	}
	s.fire(lifecycle.BeforeStep, key, cur)
	s.logger.Debug("running action", "key", fmt.Sprintf("%v", key))
	if err := cur.Execute(); err != nil {
		return false, fmt.Errorf("action %v: %w", key, err)
	}
	s.fire(lifecycle.AfterStep, key, cur)

	if key == end {
		endAction, err := s.Get(end)
		if err != nil {
			return false, fmt.Errorf("end: %w", err)
		}
		s.fire(lifecycle.AfterEnd, end, endAction)
		if c.rewound {
			c.rewound = false
			return true, nil
		}
		return false, nil
	}

	if c.rewound {
		// A handler jumped back to Start during this pull.
		c.rewound = false
		return true, nil
	}
	c.key = cur.Next
	return true, nil
}

// Reset rewinds the cursor to Start without changing its captured version.
//
// Called from a lifecycle handler during MoveNext, it makes that pull return
// true with the cursor at Start, so the traversal loops.
// Returns a KEY_NOT_FOUND error if Start is absent.
func (c *Cursor[K]) Reset() error {
	s := c.seq
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, err := s.lookupLocked(s.start)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	c.key = s.start
	c.current = a
	c.started = false
	c.rewound = true
	return nil
}
