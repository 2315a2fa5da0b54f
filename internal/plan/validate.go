package plan

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Validation error codes (E200-E299)
const (
	ErrPlanNameEmpty   = "E201" // name is required
	ErrPlanNoSteps     = "E202" // at least one step required
	ErrStepKeyEmpty    = "E203" // step key is required
	ErrDuplicateKey    = "E204" // two steps share a key
	ErrUnknownOp       = "E205" // op is not one of Ops
	ErrStartMissing    = "E206" // start is not a step key
	ErrEndMissing      = "E207" // end is not a step key
	ErrDanglingNext    = "E208" // next names no step
	ErrEndUnreachable  = "E209" // following next from start never reaches end
	ErrInvalidArgument = "E210" // op argument is malformed
)

// ValidationError describes one problem with a plan.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks p and returns every problem found (does not fail-fast).
//
// A sequence built from a plan that fails validation still runs; it fails at
// the first dangling key. Validate reports those keys up front.
func Validate(p *Plan) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "name is required and must be non-empty",
			Code:    ErrPlanNameEmpty,
		})
	}
	if len(p.Steps) == 0 {
		return append(errs, ValidationError{
			Field:   "steps",
			Message: "at least one step is required",
			Code:    ErrPlanNoSteps,
		})
	}

	keys := make(map[string]bool, len(p.Steps))
	for i, s := range p.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if s.Key == "" {
			errs = append(errs, ValidationError{
				Field:   field + ".key",
				Message: "step key is required",
				Code:    ErrStepKeyEmpty,
			})
		} else if keys[s.Key] {
			errs = append(errs, ValidationError{
				Field:   field + ".key",
				Message: fmt.Sprintf("duplicate step key %q", s.Key),
				Code:    ErrDuplicateKey,
			})
		} else {
			keys[s.Key] = true
		}
		errs = append(errs, validateOp(field, s)...)
	}

	if !keys[p.Start] {
		errs = append(errs, ValidationError{
			Field:   "start",
			Message: fmt.Sprintf("start %q is not a step key", p.Start),
			Code:    ErrStartMissing,
		})
	}
	if !keys[p.End] {
		errs = append(errs, ValidationError{
			Field:   "end",
			Message: fmt.Sprintf("end %q is not a step key", p.End),
			Code:    ErrEndMissing,
		})
	}

	for i, s := range p.Steps {
		// The end step's next is never followed.
		if s.Key == p.End || keys[s.Next] {
			continue
		}
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("steps[%d].next", i),
			Message: fmt.Sprintf("step %q names unknown next step %q", s.Key, s.Next),
			Code:    ErrDanglingNext,
		})
	}

	if keys[p.Start] && keys[p.End] && !reachable(p) {
		errs = append(errs, ValidationError{
			Field:   "end",
			Message: fmt.Sprintf("end %q is not reachable from start %q", p.End, p.Start),
			Code:    ErrEndUnreachable,
		})
	}

	return errs
}

func validateOp(field string, s Step) []ValidationError {
	if !slices.Contains(Ops, s.Op) {
		return []ValidationError{{
			Field:   field + ".op",
			Message: fmt.Sprintf("unknown op %q: must be one of %v", s.Op, Ops),
			Code:    ErrUnknownOp,
		}}
	}
	if s.Op == OpSleep {
		if _, err := time.ParseDuration(s.Duration); err != nil {
			return []ValidationError{{
				Field:   field + ".duration",
				Message: fmt.Sprintf("sleep needs a duration: %v", err),
				Code:    ErrInvalidArgument,
			}}
		}
	}
	return nil
}

// reachable follows next keys from start and reports whether end is met
// before a missing key or a revisit.
func reachable(p *Plan) bool {
	next := make(map[string]string, len(p.Steps))
	for _, s := range p.Steps {
		if _, dup := next[s.Key]; !dup {
			next[s.Key] = s.Next
		}
	}

	seen := make(map[string]bool, len(next))
	for k := p.Start; !seen[k]; {
		if k == p.End {
			return true
		}
		seen[k] = true
		n, ok := next[k]
		if !ok {
			return false
		}
		k = n
	}
	return false
}
