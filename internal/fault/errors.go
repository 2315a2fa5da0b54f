// Package fault defines the error taxonomy shared by the queue and sequence
// engines.
//
// Every error carries a Code. Sentinel values (ErrInvalidArgument, ...) match
// any *Error with the same code through errors.Is, so callers can test the
// category without caring about the message:
//
//	if errors.Is(err, fault.ErrKeyNotFound) { ... }
package fault

import (
	"errors"
	"fmt"
)

// Code categorizes engine errors.
type Code string

const (
	// CodeInvalidArgument indicates a nil or otherwise unusable argument.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeInvalidOperation indicates an operation the engine does not support
	// in its current configuration (e.g. resetting a destructive queue).
	CodeInvalidOperation Code = "INVALID_OPERATION"

	// CodeConcurrentModification indicates a cursor observed a structural
	// change of the sequence it was created from.
	CodeConcurrentModification Code = "CONCURRENT_MODIFICATION"

	// CodeKeyNotFound indicates a lookup of a key absent from a sequence.
	CodeKeyNotFound Code = "KEY_NOT_FOUND"

	// CodeCapacity indicates a destination slice too small for a copy.
	CodeCapacity Code = "CAPACITY"

	// CodeStepsExceeded indicates a traversal ran past its step quota.
	CodeStepsExceeded Code = "STEPS_EXCEEDED"
)

// Error is the structured error returned by the engines.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Key is the offending key, for KEY_NOT_FOUND and duplicate-key errors.
	Key string
}

// Sentinels for errors.Is matching. Only Code is compared.
var (
	ErrInvalidArgument        = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrInvalidOperation       = &Error{Code: CodeInvalidOperation, Message: "invalid operation"}
	ErrConcurrentModification = &Error{Code: CodeConcurrentModification, Message: "collection modified during iteration"}
	ErrKeyNotFound            = &Error{Code: CodeKeyNotFound, Message: "key not found"}
	ErrCapacity               = &Error{Code: CodeCapacity, Message: "destination too small"}
	ErrStepsExceeded          = &Error{Code: CodeStepsExceeded, Message: "step quota exceeded"}
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (key=%s)", e.Code, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// InvalidArgument creates a CodeInvalidArgument error.
func InvalidArgument(message string) *Error {
	return New(CodeInvalidArgument, message)
}

// InvalidOperation creates a CodeInvalidOperation error.
func InvalidOperation(message string) *Error {
	return New(CodeInvalidOperation, message)
}

// ConcurrentModification creates a CodeConcurrentModification error.
func ConcurrentModification(message string) *Error {
	return New(CodeConcurrentModification, message)
}

// KeyNotFound creates a CodeKeyNotFound error for key.
// The key is rendered with %v so any comparable key type works.
func KeyNotFound(key any) *Error {
	return &Error{
		Code:    CodeKeyNotFound,
		Message: "key not present in sequence",
		Key:     fmt.Sprintf("%v", key),
	}
}

// Capacity creates a CodeCapacity error.
func Capacity(need, have int) *Error {
	return &Error{
		Code:    CodeCapacity,
		Message: fmt.Sprintf("destination holds %d items, %d required", have, need),
	}
}

// StepsExceeded creates a CodeStepsExceeded error.
func StepsExceeded(steps, limit int) *Error {
	return &Error{
		Code:    CodeStepsExceeded,
		Message: fmt.Sprintf("traversal exceeded max steps quota: %d steps > %d limit", steps, limit),
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsKeyNotFound returns true if err is a KEY_NOT_FOUND error.
func IsKeyNotFound(err error) bool {
	return CodeOf(err) == CodeKeyNotFound
}

// IsConcurrentModification returns true if err is a CONCURRENT_MODIFICATION error.
func IsConcurrentModification(err error) bool {
	return CodeOf(err) == CodeConcurrentModification
}

// IsInvalidArgument returns true if err is an INVALID_ARGUMENT error.
func IsInvalidArgument(err error) bool {
	return CodeOf(err) == CodeInvalidArgument
}

// IsInvalidOperation returns true if err is an INVALID_OPERATION error.
func IsInvalidOperation(err error) bool {
	return CodeOf(err) == CodeInvalidOperation
}

// IsCapacity returns true if err is a CAPACITY error.
func IsCapacity(err error) bool {
	return CodeOf(err) == CodeCapacity
}

// IsStepsExceeded returns true if err is a STEPS_EXCEEDED error.
func IsStepsExceeded(err error) bool {
	return CodeOf(err) == CodeStepsExceeded
}
