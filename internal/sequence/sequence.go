// Package sequence implements a keyed action sequencer.
//
// A Sequence maps keys to actions. Each action names the key of the action
// that follows it, so the mapping describes a directed graph that a Cursor
// walks from Start to End. The graph is caller-defined: it may be cyclic,
// disconnected, or reference keys that do not exist. Nothing is validated at
// mutation time; a dangling key fails when the traversal reaches it.
//
// Every structural mutation bumps a version counter. A Cursor records the
// version it was created at and fails with a CONCURRENT_MODIFICATION error
// on the next pull after the sequence changes.
//
// Thread-safety: individual mutations are guarded by a mutex. A traversal is
// expected to have a single reader; the version check makes a stale cursor
// fail loudly instead of reading inconsistent state. Actions and lifecycle
// handlers run without the mutex held and may read the sequence.
package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/roach88/tandem/internal/fault"
	"github.com/roach88/tandem/internal/lifecycle"
)

// Action is a node of the sequence graph.
type Action[K comparable] struct {
	// Run is the unit of work. A nil Run is a no-op step.
	Run func() error

	// Next is the key of the action that follows this one.
	// Ignored when this action's key is the sequence's End.
	Next K
}

// Execute runs the action.
func (a Action[K]) Execute() error {
	if a.Run == nil {
		return nil
	}
	return a.Run()
}

// Handler is a lifecycle callback.
type Handler[K comparable] func(s *Sequence[K], key K, a Action[K])

// Option configures a Sequence.
type Option[K comparable] func(*Sequence[K])

// WithLogger sets the logger. Default: slog.Default().
func WithLogger[K comparable](l *slog.Logger) Option[K] {
	return func(s *Sequence[K]) {
		s.logger = l
	}
}

// WithMaxSteps bounds the number of actions one Execute call may run.
// Zero, the default, means no limit.
func WithMaxSteps[K comparable](n int) Option[K] {
	return func(s *Sequence[K]) {
		s.maxSteps = n
	}
}

// Sequence is a mapping from key to Action with designated start and end
// keys.
type Sequence[K comparable] struct {
	mu      sync.RWMutex
	actions map[K]Action[K]
	start   K
	end     K
	version uint64

	hooks    lifecycle.Bus[Handler[K]]
	logger   *slog.Logger
	maxSteps int
}

// New creates an empty sequence.
func New[K comparable](opts ...Option[K]) *Sequence[K] {
	s := &Sequence[K]{
		actions: make(map[K]Action[K]),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start returns the key traversal begins at.
func (s *Sequence[K]) Start() K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.start
}

// SetStart sets the key traversal begins at.
// Not a structural mutation: the version is unchanged.
func (s *Sequence[K]) SetStart(k K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = k
}

// End returns the key traversal finishes at.
func (s *Sequence[K]) End() K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.end
}

// SetEnd sets the key traversal finishes at.
// Not a structural mutation: the version is unchanged.
func (s *Sequence[K]) SetEnd(k K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end = k
}

// Version returns the structural modification counter.
func (s *Sequence[K]) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Add inserts a under k.
// Returns an INVALID_ARGUMENT error if k is already present.
func (s *Sequence[K]) Add(k K, a Action[K]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(k, a)
}

func (s *Sequence[K]) addLocked(k K, a Action[K]) error {
	if _, ok := s.actions[k]; ok {
		return &fault.Error{
			Code:    fault.CodeInvalidArgument,
			Message: "an action with the same key already exists",
			Key:     fmt.Sprintf("%v", k),
		}
	}
	s.actions[k] = a
	s.version++
	return nil
}

// Set stores a under k, overwriting any existing action.
func (s *Sequence[K]) Set(k K, a Action[K]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[k]; ok {
		s.actions[k] = a
		s.version++
		return
	}
	// Cannot fail: k is absent.
	_ = s.addLocked(k, a)
}

// Get returns the action stored under k.
// Returns a KEY_NOT_FOUND error if k is absent.
func (s *Sequence[K]) Get(k K) (Action[K], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookupLocked(k)
}

func (s *Sequence[K]) lookupLocked(k K) (Action[K], error) {
	a, ok := s.actions[k]
	if !ok {
		return Action[K]{}, fault.KeyNotFound(k)
	}
	return a, nil
}

// TryGet returns the action stored under k and whether it was present.
func (s *Sequence[K]) TryGet(k K) (Action[K], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[k]
	return a, ok
}

// ContainsKey reports whether k is present.
func (s *Sequence[K]) ContainsKey(k K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.actions[k]
	return ok
}

// Remove deletes the action stored under k. Returns true if one was removed.
// Removing an absent key is not a structural mutation: the version is
// unchanged and open cursors stay valid.
func (s *Sequence[K]) Remove(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[k]; !ok {
		return false
	}
	delete(s.actions, k)
	s.version++
	return true
}

// Clear removes every action. Start and End are kept.
func (s *Sequence[K]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.actions)
	s.version++
}

// Len returns the number of actions.
func (s *Sequence[K]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actions)
}

// Keys returns the keys in unspecified order.
func (s *Sequence[K]) Keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]K, 0, len(s.actions))
	for k := range s.actions {
		keys = append(keys, k)
	}
	return keys
}

// Actions returns a copy of the mapping.
func (s *Sequence[K]) Actions() map[K]Action[K] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.actions)
}

// BeforeStart registers h to run on every pull whose key equals Start.
func (s *Sequence[K]) BeforeStart(h Handler[K]) *Sequence[K] {
	s.hooks.Add(lifecycle.BeforeStart, h)
	return s
}

// BeforeStep registers h to run before each action.
func (s *Sequence[K]) BeforeStep(h Handler[K]) *Sequence[K] {
	s.hooks.Add(lifecycle.BeforeStep, h)
	return s
}

// AfterStep registers h to run after each action that returns without error.
func (s *Sequence[K]) AfterStep(h Handler[K]) *Sequence[K] {
	s.hooks.Add(lifecycle.AfterStep, h)
	return s
}

// AfterEnd registers h to run after the End action.
func (s *Sequence[K]) AfterEnd(h Handler[K]) *Sequence[K] {
	s.hooks.Add(lifecycle.AfterEnd, h)
	return s
}

// Execute traverses the sequence from Start to End.
//
// ctx is checked between pulls; a running action is never interrupted.
// With WithMaxSteps set, a traversal that would run more actions than the
// limit stops with a STEPS_EXCEEDED error before running the extra one.
func (s *Sequence[K]) Execute(ctx context.Context) error {
	c, err := s.Cursor()
	if err != nil {
		return err
	}

	q := quota{limit: s.maxSteps}
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := q.check(); err != nil {
			s.logger.Error("traversal aborted", "steps", steps, "key", fmt.Sprintf("%v", c.Key()), "error", err)
			return err
		}
		more, err := c.MoveNext()
		if err != nil {
			s.logger.Error("traversal aborted", "steps", steps, "key", fmt.Sprintf("%v", c.Key()), "error", err)
			return err
		}
		steps++
		if !more {
			s.logger.Debug("traversal finished", "steps", steps)
			return nil
		}
	}
}

func (s *Sequence[K]) fire(stage lifecycle.Stage, k K, a Action[K]) {
	for _, h := range s.hooks.Handlers(stage) {
		h(s, k, a)
	}
}
