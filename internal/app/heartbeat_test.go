package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatPrunesAfterTwoMissedProbes(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{}
	r.Track("c1", c, "")
	hb := &Heartbeat{Registry: r}

	probed, pruned := hb.Sweep()
	require.Equal(t, 1, probed)
	require.Zero(t, pruned)
	require.Equal(t, 1, c.pings)

	// first unanswered probe is tolerated
	probed, pruned = hb.Sweep()
	require.Equal(t, 1, probed)
	require.Zero(t, pruned)
	require.Equal(t, 2, c.pings)

	probed, pruned = hb.Sweep()
	require.Zero(t, probed)
	require.Equal(t, 1, pruned)
	require.True(t, c.closed)
	require.Zero(t, r.Len())
}

func TestHeartbeatPongResetsMisses(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{}
	r.Track("c1", c, "")
	hb := &Heartbeat{Registry: r}

	hb.Sweep()
	hb.Sweep()
	r.MarkAlive("c1")
	hb.Sweep()
	_, pruned := hb.Sweep()
	require.Zero(t, pruned)
	require.False(t, c.closed)
}

func TestHeartbeatKeepsAnsweringConnections(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{}
	r.Track("c1", c, "")
	hb := &Heartbeat{Registry: r}

	for i := 0; i < 3; i++ {
		_, pruned := hb.Sweep()
		require.Zero(t, pruned)
		r.MarkAlive("c1")
	}
	require.Equal(t, 3, c.pings)
	require.False(t, c.closed)

	e, err := r.Get("c1")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), e.LastPong, time.Second)
}

func TestHeartbeatPingFailureUsesTimeoutPath(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{pingErr: errors.New("broken pipe")}
	r.Track("c1", c, "")

	var timedOut []domain.ConnID
	hb := &Heartbeat{Registry: r, OnTimeout: func(id domain.ConnID) {
		timedOut = append(timedOut, id)
		r.Unregister(id)
	}}

	_, pruned := hb.Sweep()
	require.Equal(t, 1, pruned)
	require.Equal(t, []domain.ConnID{"c1"}, timedOut)
	require.True(t, c.closed)
}

func TestHeartbeatRunStopsWithContext(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{}
	r.Track("c1", c, "")
	hb := &Heartbeat{Registry: r, Interval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hb.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not stop")
	}
}
