package testutil

import (
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStampLog_IssuesFromOne(t *testing.T) {
	l := NewStampLog()

	assert.Empty(t, l.Issued())
	assert.Equal(t, int64(1), l.Next())
	assert.Equal(t, int64(2), l.Next())
	assert.Equal(t, []int64{1, 2}, l.Issued())
}

func TestStampLog_Origin(t *testing.T) {
	l := NewStampLogAt(100)

	assert.Equal(t, int64(101), l.Next())
	assert.Equal(t, []int64{101}, l.Issued())
}

func TestStampLog_RewindReplaysStamps(t *testing.T) {
	l := NewStampLogAt(10)
	first := []int64{l.Next(), l.Next(), l.Next()}

	l.Rewind()
	assert.Empty(t, l.Issued())

	second := []int64{l.Next(), l.Next(), l.Next()}
	assert.Equal(t, first, second)
	assert.Equal(t, []int64{11, 12, 13}, second)
}

func TestStampLog_IssuedIsSnapshot(t *testing.T) {
	l := NewStampLog()
	l.Next()

	got := l.Issued()
	got[0] = 99
	assert.Equal(t, []int64{1}, l.Issued())
}

func TestStampLog_ConcurrentStampsAreUnique(t *testing.T) {
	l := NewStampLog()
	const goroutines, calls = 50, 100

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range calls {
				l.Next()
			}
		}()
	}
	wg.Wait()

	issued := l.Issued()
	require.Len(t, issued, goroutines*calls)
	slices.Sort(issued)
	for i, v := range issued {
		assert.Equal(t, int64(i+1), v)
	}
}
