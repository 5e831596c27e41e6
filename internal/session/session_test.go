package session

import (
	"sync"
	"testing"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/stretchr/testify/require"
)

type countingStream struct {
	mu       sync.Mutex
	closes   int
	graceful bool
}

func (c *countingStream) Send(core.Frame) error             { return nil }
func (c *countingStream) Results() <-chan core.EngineResult { return nil }
func (c *countingStream) Err() error                        { return nil }
func (c *countingStream) Finish() error                     { return nil }
func (c *countingStream) Close(graceful bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.graceful = graceful
	return nil
}

func newTestSession() *Session {
	return New("c1", domain.Identity{Meeting: "m1", Speaker: "s1", Role: domain.RoleHost})
}

func TestSessionFireClosesDoneOnce(t *testing.T) {
	s := newTestSession()
	require.Equal(t, StateIdle, s.State())

	prev, next, err := s.Fire(EventStart, "")
	require.NoError(t, err)
	require.Equal(t, StateIdle, prev)
	require.Equal(t, StateStreaming, next)

	_, _, err = s.Fire(EventFail, "client gone")
	require.NoError(t, err)
	_, _, err = s.Fire(EventFail, "second teardown")
	require.NoError(t, err)

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
	require.Equal(t, "client gone", s.Reason())
}

func TestSessionInvalidFireKeepsState(t *testing.T) {
	s := newTestSession()
	prev, next, err := s.Fire(EventEnd, "")
	require.Error(t, err)
	require.Equal(t, StateIdle, prev)
	require.Equal(t, StateIdle, next)
	require.Equal(t, StateIdle, s.State())
}

func TestSessionAttachOnce(t *testing.T) {
	s := newTestSession()
	first := &countingStream{}
	require.True(t, s.Attach(first))
	require.False(t, s.Attach(&countingStream{}))
	require.Same(t, first, s.Stream())
}

func TestSessionAttachAfterClose(t *testing.T) {
	s := newTestSession()
	_, _, err := s.Fire(EventFail, "torn down during open")
	require.NoError(t, err)
	require.False(t, s.Attach(&countingStream{}))
	require.Nil(t, s.Stream())
}

func TestSessionCloseStreamIdempotent(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.CloseStream(true))

	stream := &countingStream{}
	require.True(t, s.Attach(stream))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.CloseStream(false)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, stream.closes)
}

func TestSessionCounters(t *testing.T) {
	s := newTestSession()
	require.Equal(t, uint64(1), s.NextSeq())
	require.Equal(t, uint64(2), s.NextSeq())
	s.CountFrame(8192)
	s.CountFrame(100)
	require.Equal(t, Stats{Events: 2, Frames: 2, Bytes: 8292}, s.Stats())
}
