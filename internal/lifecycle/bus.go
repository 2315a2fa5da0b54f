// Package lifecycle provides the ordered callback lists behind the
// BeforeStart/BeforeStep/AfterStep/AfterEnd extension points of the queue and
// sequence engines.
//
// A Bus is generic over the handler signature so each engine keeps its own
// strongly typed callback shape:
//
//	var bus lifecycle.Bus[func(q *Queue, u *Unit)]
//	bus.Add(lifecycle.BeforeStep, h)
//	for _, h := range bus.Handlers(lifecycle.BeforeStep) {
//	    h(q, u)
//	}
package lifecycle

import (
	"fmt"
	"sync"
)

// Stage identifies an extension point.
type Stage int

const (
	// BeforeStart fires before the first step of a drain or traversal.
	BeforeStart Stage = iota + 1
	// BeforeStep fires before each unit or action runs.
	BeforeStep
	// AfterStep fires after each unit or action returns successfully.
	AfterStep
	// AfterEnd fires once the drain or traversal has finished.
	AfterEnd
)

// Stages lists every stage in firing order.
var Stages = []Stage{BeforeStart, BeforeStep, AfterStep, AfterEnd}

// String returns the snake_case stage name used in traces and metrics.
func (s Stage) String() string {
	switch s {
	case BeforeStart:
		return "before_start"
	case BeforeStep:
		return "before_step"
	case AfterStep:
		return "after_step"
	case AfterEnd:
		return "after_end"
	default:
		return "unknown"
	}
}

// ParseStage is the inverse of Stage.String.
func ParseStage(name string) (Stage, bool) {
	for _, s := range Stages {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a stage name.
func (s *Stage) UnmarshalText(text []byte) error {
	st, ok := ParseStage(string(text))
	if !ok {
		return fmt.Errorf("unknown lifecycle stage %q", text)
	}
	*s = st
	return nil
}

// Bus holds handlers per stage in registration order.
//
// The zero value is ready to use. Bus is safe for concurrent use; Handlers
// returns a copy so handlers may register further handlers while being
// dispatched without deadlocking.
type Bus[F any] struct {
	mu       sync.RWMutex
	handlers map[Stage][]F
}

// Add appends h to the handlers of stage.
func (b *Bus[F]) Add(stage Stage, h F) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[Stage][]F, len(Stages))
	}
	b.handlers[stage] = append(b.handlers[stage], h)
}

// Handlers returns a snapshot of the handlers registered for stage.
func (b *Bus[F]) Handlers(stage Stage) []F {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hs := b.handlers[stage]
	if len(hs) == 0 {
		return nil
	}
	out := make([]F, len(hs))
	copy(out, hs)
	return out
}

// Len returns the number of handlers registered for stage.
func (b *Bus[F]) Len(stage Stage) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[stage])
}
