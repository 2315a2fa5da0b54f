package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := KeyNotFound("45")

	assert.True(t, errors.Is(err, ErrKeyNotFound))
	assert.False(t, errors.Is(err, ErrConcurrentModification))
	assert.Equal(t, "45", err.Key)
}

func TestError_IsThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("move next: %w", ConcurrentModification("sequence changed"))

	assert.True(t, errors.Is(wrapped, ErrConcurrentModification))
	assert.True(t, IsConcurrentModification(wrapped))
	assert.Equal(t, CodeConcurrentModification, CodeOf(wrapped))
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "KEY_NOT_FOUND: key not present in sequence (key=7)", KeyNotFound(7).Error())
	assert.Equal(t, "INVALID_OPERATION: cannot reset", InvalidOperation("cannot reset").Error())
	assert.Equal(t, "CAPACITY: destination holds 1 items, 3 required", Capacity(3, 1).Error())
	assert.Equal(t, "STEPS_EXCEEDED: traversal exceeded max steps quota: 4 steps > 3 limit", StepsExceeded(4, 3).Error())
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
	}{
		{"invalid_argument", InvalidArgument("nil unit"), IsInvalidArgument},
		{"invalid_operation", InvalidOperation("reset"), IsInvalidOperation},
		{"concurrent_modification", ConcurrentModification("changed"), IsConcurrentModification},
		{"key_not_found", KeyNotFound("x"), IsKeyNotFound},
		{"capacity", Capacity(2, 1), IsCapacity},
		{"steps_exceeded", StepsExceeded(11, 10), IsStepsExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.pred(tt.err))
			assert.False(t, tt.pred(errors.New("plain")))
			assert.False(t, tt.pred(nil))
		})
	}
}
