package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffSequence(t *testing.T) {
	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60, 60, 60, 300}
	for i, w := range want {
		assert.Equal(t, w*time.Second, DefaultBackoff.Delay(i+1), "attempt %d", i+1)
	}
}

func TestReconnectCampaignCountsAttemptsAndResets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s, changed := State{}.Apply(Connect{}, now, DefaultBackoff)
	require.True(t, changed)
	require.Equal(t, PhaseConnecting, s.Phase)

	var delays []time.Duration
	for attempt := 1; attempt <= 11; attempt++ {
		s, changed = s.Apply(ConnectionLost{Reason: "refused"}, now, DefaultBackoff)
		require.True(t, changed)
		assert.Equal(t, PhaseReconnecting, s.Phase)
		assert.Equal(t, attempt, s.Attempt)
		assert.Equal(t, now.Add(time.Duration(s.Delay)), s.NextRetry)
		delays = append(delays, time.Duration(s.Delay))

		s, changed = s.Apply(Connect{}, now, DefaultBackoff)
		require.True(t, changed)
		assert.Equal(t, PhaseConnecting, s.Phase)
		assert.Equal(t, attempt, s.Attempt)
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		32 * time.Second, 60 * time.Second, 60 * time.Second, 60 * time.Second, 60 * time.Second,
		300 * time.Second,
	}, delays)

	s, changed = s.Apply(HandshakeSucceeded{}, now, DefaultBackoff)
	require.True(t, changed)
	assert.Equal(t, State{Phase: PhaseConnected}, s)

	s, _ = s.Apply(ConnectionLost{Reason: "reset"}, now, DefaultBackoff)
	assert.Equal(t, 1, s.Attempt)
	assert.Equal(t, Duration(time.Second), s.Delay)
}

func TestHandshakeTimeoutFails(t *testing.T) {
	now := time.Now()
	s, _ := State{}.Apply(Connect{}, now, DefaultBackoff)
	s, changed := s.Apply(HandshakeTimedOut{Reason: "timeout"}, now, DefaultBackoff)
	require.True(t, changed)
	assert.Equal(t, PhaseFailed, s.Phase)
	assert.Equal(t, "timeout", s.Reason)
	assert.Equal(t, 1, s.Attempt)

	s, changed = s.Apply(Connect{}, now, DefaultBackoff)
	require.True(t, changed)
	assert.Equal(t, PhaseConnecting, s.Phase)
}

func TestIgnoredEvents(t *testing.T) {
	now := time.Now()
	cases := map[string]struct {
		from State
		ev   Event
	}{
		"disable while disconnected":   {from: State{}, ev: Disable{}},
		"handshake while disconnected": {from: State{}, ev: HandshakeSucceeded{}},
		"lost while disconnected":      {from: State{}, ev: ConnectionLost{}},
		"connect while connected":      {from: State{Phase: PhaseConnected}, ev: Connect{}},
		"connect while connecting":     {from: State{Phase: PhaseConnecting, Attempt: 2}, ev: Connect{}},
		"timeout while connected":      {from: State{Phase: PhaseConnected}, ev: HandshakeTimedOut{}},
		"lost while reconnecting":      {from: State{Phase: PhaseReconnecting, Attempt: 3}, ev: ConnectionLost{}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			next, changed := tc.from.Apply(tc.ev, now, DefaultBackoff)
			assert.False(t, changed)
			assert.Equal(t, tc.from, next)
		})
	}
}

func TestDisableFromAnyPhase(t *testing.T) {
	for _, phase := range []Phase{PhaseConnecting, PhaseConnected, PhaseReconnecting, PhaseFailed} {
		next, changed := State{Phase: phase, Attempt: 4, Reason: "x"}.Apply(Disable{}, time.Now(), DefaultBackoff)
		assert.True(t, changed, phase.String())
		assert.Equal(t, State{Phase: PhaseDisconnected}, next)
	}
}
