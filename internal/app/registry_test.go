package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu      sync.Mutex
	frames  []core.Frame
	full    bool
	closed  bool
	pings   int
	pingErr error
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.pingErr
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func ident(t *testing.T, meeting, speaker string) domain.Identity {
	t.Helper()
	id, err := domain.NewIdentity(meeting, speaker, "participant")
	require.NoError(t, err)
	return id
}

func TestRegistryRegisterOnce(t *testing.T) {
	r := NewRegistry()
	r.Track("c1", &fakeConn{}, "tok")

	require.NoError(t, r.Register("c1", ident(t, "m1", "s1")))
	require.ErrorIs(t, r.Register("c1", ident(t, "m1", "s2")), ErrAlreadyRegistered)
	require.ErrorIs(t, r.Register("nope", ident(t, "m1", "s1")), ErrNotFound)

	e, err := r.Get("c1")
	require.NoError(t, err)
	require.True(t, e.Registered)
	require.Equal(t, domain.SpeakerID("s1"), e.Identity.Speaker)
	require.Equal(t, "tok", e.ClientToken)
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	r.Track("c1", &fakeConn{}, "")
	require.True(t, r.Unregister("c1"))
	require.False(t, r.Unregister("c1"))
	_, err := r.Get("c1")
	require.ErrorIs(t, err, ErrNotFound)
	require.Zero(t, r.Len())
}

func TestRegistryBroadcastScopesToMeeting(t *testing.T) {
	r := NewRegistry()
	a, b, other, anon, closed := &fakeConn{}, &fakeConn{}, &fakeConn{}, &fakeConn{}, &fakeConn{closed: true}
	r.Track("a", a, "")
	r.Track("b", b, "")
	r.Track("o", other, "")
	r.Track("x", anon, "")
	r.Track("z", closed, "")
	require.NoError(t, r.Register("a", ident(t, "m1", "s1")))
	require.NoError(t, r.Register("b", ident(t, "m1", "s2")))
	require.NoError(t, r.Register("o", ident(t, "m2", "s1")))
	require.NoError(t, r.Register("z", ident(t, "m1", "s3")))

	res := r.Broadcast("m1", core.Frame(`{"type":"transcription"}`))
	require.Equal(t, 2, res.SendTo)
	require.Equal(t, 1, res.Skipped)
	require.Empty(t, res.Dropped)
	require.Equal(t, 1, a.sent())
	require.Equal(t, 1, b.sent())
	require.Zero(t, other.sent())
	require.Zero(t, anon.sent())
	require.Zero(t, closed.sent())
}

func TestRegistryBroadcastReportsDropped(t *testing.T) {
	r := NewRegistry()
	r.Track("slow", &fakeConn{full: true}, "")
	require.NoError(t, r.Register("slow", ident(t, "m1", "s1")))

	res := r.Broadcast("m1", core.Frame("x"))
	require.Equal(t, []domain.ConnID{"slow"}, res.Dropped)
	require.Zero(t, res.SendTo)
}

func TestRegistryForEachAllowsRemoval(t *testing.T) {
	r := NewRegistry()
	for _, id := range []domain.ConnID{"a", "b", "c"} {
		r.Track(id, &fakeConn{}, "")
		require.NoError(t, r.Register(id, ident(t, "m1", string(id))))
	}
	seen := 0
	r.ForEachInMeeting("m1", func(e Entry) {
		seen++
		r.Unregister(e.ID)
	})
	require.Equal(t, 3, seen)
	require.Zero(t, r.Len())
}

func TestRegistryMeetings(t *testing.T) {
	r := NewRegistry()
	r.Track("a", &fakeConn{}, "")
	r.Track("b", &fakeConn{}, "")
	r.Track("c", &fakeConn{}, "")
	r.Track("anon", &fakeConn{}, "")
	require.NoError(t, r.Register("a", ident(t, "m2", "s1")))
	require.NoError(t, r.Register("b", ident(t, "m1", "s1")))
	require.NoError(t, r.Register("c", ident(t, "m1", "s2")))

	require.Equal(t, []core.MeetingInfo{
		{ID: "m1", ConnectionCount: 2},
		{ID: "m2", ConnectionCount: 1},
	}, r.Meetings())

	conns := r.MeetingConnections("m1")
	require.Len(t, conns, 2)
	require.Equal(t, domain.ConnID("b"), conns[0].ID)
	require.Equal(t, domain.SpeakerID("s2"), conns[1].Speaker)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := domain.NewConnID()
			r.Track(id, &fakeConn{}, "")
			who, _ := domain.NewIdentity("m1", string(id), "")
			_ = r.Register(id, who)
			r.Broadcast("m1", core.Frame("x"))
			r.MarkAlive(id)
			if i%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 25, r.Len())
}
