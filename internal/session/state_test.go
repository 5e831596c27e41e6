package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	next, err := Transition(StateIdle, EventStart)
	require.NoError(t, err)
	require.Equal(t, StateStreaming, next)

	next, err = Transition(next, EventEnd)
	require.NoError(t, err)
	require.Equal(t, StateDraining, next)

	next, err = Transition(next, EventFinal)
	require.NoError(t, err)
	require.Equal(t, StateClosed, next)
}

func TestTransitionFinalWhileStreaming(t *testing.T) {
	next, err := Transition(StateStreaming, EventFinal)
	require.NoError(t, err)
	require.Equal(t, StateDraining, next)

	next, err = Transition(next, EventDrained)
	require.NoError(t, err)
	require.Equal(t, StateClosed, next)
}

func TestTransitionFailFromAnyStateGoesClosed(t *testing.T) {
	for _, state := range []State{StateIdle, StateStreaming, StateDraining, StateClosed} {
		next, err := Transition(state, EventFail)
		require.NoError(t, err)
		require.Equal(t, StateClosed, next)
	}
}

func TestTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		state State
		event Event
	}{
		{name: "idle end", state: StateIdle, event: EventEnd},
		{name: "idle final", state: StateIdle, event: EventFinal},
		{name: "streaming start", state: StateStreaming, event: EventStart},
		{name: "streaming drained", state: StateStreaming, event: EventDrained},
		{name: "draining start", state: StateDraining, event: EventStart},
		{name: "draining end", state: StateDraining, event: EventEnd},
		{name: "closed start", state: StateClosed, event: EventStart},
		{name: "closed end", state: StateClosed, event: EventEnd},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.state, tc.event)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid transition")
			require.Equal(t, tc.state, next)
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	next, err := Transition(State("mystery"), EventStart)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, State("mystery"), next)

	_, err = Transition(State("mystery"), EventFail)
	require.Error(t, err)
}

func TestAcceptsAudio(t *testing.T) {
	require.True(t, AcceptsAudio(StateStreaming))
	require.False(t, AcceptsAudio(StateIdle))
	require.False(t, AcceptsAudio(StateDraining))
	require.False(t, AcceptsAudio(StateClosed))
}
