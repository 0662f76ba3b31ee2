package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsAreDeliveredInRegistrationOrder(t *testing.T) {
	EventSystemInitialize()

	var got []string
	var width uint32
	require.True(t, EventRegister(EVENT_CODE_RESIZED, func(ctx EventContext) {
		width = ctx.Data.(*SystemEvent).WindowWidth
		got = append(got, "first")
	}))
	require.True(t, EventRegister(EVENT_CODE_RESIZED, func(EventContext) {
		got = append(got, "second")
	}))

	require.True(t, EventFire(EventContext{Type: EVENT_CODE_RESIZED, Data: &SystemEvent{WindowWidth: 7}}))
	assert.Equal(t, 1, DispatchPending())
	assert.Equal(t, []string{"first", "second"}, got)
	assert.EqualValues(t, 7, width)
	assert.Zero(t, DispatchPending())
}

func TestEventFireDropsWhenQueueIsFull(t *testing.T) {
	EventSystemInitialize()

	for i := 0; i < eventQueueSize; i++ {
		require.True(t, EventFire(EventContext{Type: MAX_EVENT_CODE}))
	}
	assert.False(t, EventFire(EventContext{Type: MAX_EVENT_CODE}))
	assert.Equal(t, eventQueueSize, DispatchPending())
}

func TestEventRegisterRejectsNilListener(t *testing.T) {
	EventSystemInitialize()
	assert.False(t, EventRegister(EVENT_CODE_KEY_PRESSED, nil))
}

func TestShutdownDropsQueuedAndLaterEvents(t *testing.T) {
	EventSystemInitialize()
	t.Cleanup(func() {
		eventState.mu.Lock()
		eventState.closed = false
		eventState.mu.Unlock()
	})

	called := false
	require.True(t, EventRegister(EVENT_CODE_APPLICATION_QUIT, func(EventContext) { called = true }))
	require.True(t, EventFire(EventContext{Type: EVENT_CODE_APPLICATION_QUIT}))

	require.NoError(t, EventSystemShutdown())
	assert.False(t, EventFire(EventContext{Type: EVENT_CODE_APPLICATION_QUIT}))
	assert.Zero(t, DispatchPending())
	assert.False(t, called)
	require.NoError(t, EventSystemShutdown())
}
