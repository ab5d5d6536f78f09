package mediaflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestState(t *testing.T) {
	require.Equal(t, "seeking", StateSeeking.String())
	require.Equal(t, "errored", StateErrored.String())
	require.True(t, StateStopped.Terminal())
	require.True(t, StateErrored.Terminal())
	require.False(t, StatePaused.Terminal())

	for _, v := range []struct {
		from, to State
		ok       bool
	}{
		{from: StateIdle, to: StateLoading, ok: true},
		{from: StateIdle, to: StateSeeking},
		{from: StateIdle, to: StateRunning},
		{from: StateLoading, to: StateReady, ok: true},
		{from: StateLoading, to: StateErrored, ok: true},
		{from: StateReady, to: StateRunning, ok: true},
		{from: StateReady, to: StatePaused},
		{from: StateRunning, to: StatePaused, ok: true},
		{from: StatePaused, to: StateRunning, ok: true},
		{from: StateRunning, to: StateSeeking, ok: true},
		{from: StatePaused, to: StateSeeking, ok: true},
		{from: StateSeeking, to: StatePaused, ok: true},
		{from: StateSeeking, to: StateRunning, ok: true},
		{from: StateRunning, to: StateStopped, ok: true},
		{from: StateStopped, to: StateRunning},
		{from: StateStopped, to: StateLoading, ok: true},
		{from: StateErrored, to: StateLoading},
		{from: StateErrored, to: StateStopped},
	} {
		require.Equal(t, v.ok, v.from.canTransitionTo(v.to), "%s -> %s", v.from, v.to)
	}
}
