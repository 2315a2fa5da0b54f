package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/tandem/internal/queue"
	"github.com/roach88/tandem/internal/sequence"
)

// ErrStepFailed is returned by fail steps.
var ErrStepFailed = errors.New("step failed")

// Env is the state shared by the steps of a plan.
type Env struct {
	acc    atomic.Int64
	logger *slog.Logger
}

// NewEnv creates an Env with a zero accumulator.
// A nil logger means slog.Default().
func NewEnv(logger *slog.Logger) *Env {
	if logger == nil {
		logger = slog.Default()
	}
	return &Env{logger: logger}
}

// Result returns the accumulator.
func (e *Env) Result() int64 {
	return e.acc.Load()
}

// Build validates p and returns a sequence of its steps.
//
// ctx bounds sleep steps; the sequence itself checks its own context between
// steps.
func Build(ctx context.Context, p *Plan, env *Env, opts ...sequence.Option[string]) (*sequence.Sequence[string], error) {
	if err := check(p); err != nil {
		return nil, err
	}

	s := sequence.New(opts...)
	for _, step := range p.Steps {
		fn := step.bind(env)
		a := sequence.Action[string]{
			Run:  func() error { return fn(ctx) },
			Next: step.Next,
		}
		if err := s.Add(step.Key, a); err != nil {
			return nil, err
		}
	}
	s.SetStart(p.Start)
	s.SetEnd(p.End)
	return s, nil
}

// Units returns one queue unit per step in definition order, ignoring the
// next links. Unit IDs are the step keys.
func Units(p *Plan, env *Env) ([]*queue.Unit, error) {
	if err := check(p); err != nil {
		return nil, err
	}

	units := make([]*queue.Unit, 0, len(p.Steps))
	for _, step := range p.Steps {
		units = append(units, queue.NewUnitWithID(step.Key, queue.Func(step.bind(env))))
	}
	return units, nil
}

func check(p *Plan) error {
	problems := Validate(p)
	if len(problems) == 0 {
		return nil
	}
	errs := make([]error, len(problems))
	for i, v := range problems {
		errs[i] = v
	}
	return fmt.Errorf("invalid plan %q: %w", p.Name, errors.Join(errs...))
}

// bind returns the step's operation closed over env.
func (s Step) bind(env *Env) func(ctx context.Context) error {
	key := s.Key
	switch s.Op {
	case OpLog:
		msg := s.Message
		return func(context.Context) error {
			env.logger.Info("plan step", "key", key, "message", msg)
			return nil
		}
	case OpAdd:
		n := s.Value
		return func(context.Context) error {
			env.acc.Add(n)
			return nil
		}
	case OpSleep:
		// Validated by check.
		d, _ := time.ParseDuration(s.Duration)
		return func(ctx context.Context) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	case OpFail:
		msg := s.Message
		if msg == "" {
			msg = "fail step " + key
		}
		return func(context.Context) error {
			return fmt.Errorf("%w: %s", ErrStepFailed, msg)
		}
	default:
		return func(context.Context) error { return nil }
	}
}
