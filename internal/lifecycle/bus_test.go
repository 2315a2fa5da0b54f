package lifecycle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_ZeroValueHasNoHandlers(t *testing.T) {
	var bus Bus[func()]

	assert.Nil(t, bus.Handlers(BeforeStart))
	assert.Equal(t, 0, bus.Len(AfterEnd))
}

func TestBus_RegistrationOrder(t *testing.T) {
	var bus Bus[func() string]

	bus.Add(BeforeStep, func() string { return "first" })
	bus.Add(BeforeStep, func() string { return "second" })
	bus.Add(AfterStep, func() string { return "other-stage" })

	hs := bus.Handlers(BeforeStep)
	require.Len(t, hs, 2)
	assert.Equal(t, "first", hs[0]())
	assert.Equal(t, "second", hs[1]())
	assert.Equal(t, 1, bus.Len(AfterStep))
}

func TestBus_HandlersIsSnapshot(t *testing.T) {
	var bus Bus[func()]
	bus.Add(BeforeStart, func() {})

	hs := bus.Handlers(BeforeStart)
	bus.Add(BeforeStart, func() {})

	assert.Len(t, hs, 1, "snapshot must not see later registrations")
	assert.Equal(t, 2, bus.Len(BeforeStart))
}

func TestBus_RegisterDuringDispatch(t *testing.T) {
	var bus Bus[func()]
	bus.Add(AfterStep, func() {
		bus.Add(AfterStep, func() {})
	})

	for _, h := range bus.Handlers(AfterStep) {
		h()
	}
	assert.Equal(t, 2, bus.Len(AfterStep))
}

func TestBus_ConcurrentAdd(t *testing.T) {
	var bus Bus[func()]
	const n = 50

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			bus.Add(BeforeStep, func() {})
		}()
	}
	wg.Wait()

	assert.Equal(t, n, bus.Len(BeforeStep))
}

func TestStage_StringRoundTrip(t *testing.T) {
	for _, s := range Stages {
		t.Run(s.String(), func(t *testing.T) {
			got, ok := ParseStage(s.String())
			require.True(t, ok)
			assert.Equal(t, s, got)
		})
	}

	_, ok := ParseStage("sideways")
	assert.False(t, ok)
	assert.Equal(t, "unknown", Stage(0).String())
}

func TestStage_TextRoundTrip(t *testing.T) {
	for _, s := range Stages {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var got Stage
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}

	var bad Stage
	assert.Error(t, bad.UnmarshalText([]byte("midway")))
}
