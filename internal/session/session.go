package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
)

// Session is one speaker's audio stream from start to terminal close.
// It owns at most one engine stream.
type Session struct {
	conn     domain.ConnID
	identity domain.Identity
	started  time.Time

	mu     sync.Mutex
	state  State
	stream core.EngineStream
	reason string

	closed     chan struct{}
	streamOnce sync.Once

	seq    atomic.Uint64
	frames atomic.Uint64
	bytes  atomic.Uint64
}

func New(conn domain.ConnID, ident domain.Identity) *Session {
	return &Session{
		conn:     conn,
		identity: ident,
		started:  time.Now(),
		state:    StateIdle,
		closed:   make(chan struct{}),
	}
}

func (s *Session) Conn() domain.ConnID       { return s.conn }
func (s *Session) Identity() domain.Identity { return s.identity }
func (s *Session) Started() time.Time        { return s.started }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason is the close reason recorded by the first transition into closed.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Fire applies ev and returns the previous and next state.
func (s *Session) Fire(ev Event, reason string) (State, State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	next, err := Transition(prev, ev)
	if err != nil {
		return prev, prev, err
	}
	s.state = next
	if next == StateClosed && prev != StateClosed {
		s.reason = reason
		close(s.closed)
	}
	return prev, next, nil
}

// Attach binds the engine stream. It fails if the session was torn down meanwhile.
func (s *Session) Attach(stream core.EngineStream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.stream != nil {
		return false
	}
	s.stream = stream
	return true
}

func (s *Session) Stream() core.EngineStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// CloseStream closes the engine stream once; later calls are no-ops.
func (s *Session) CloseStream(graceful bool) error {
	stream := s.Stream()
	if stream == nil {
		return nil
	}
	var err error
	s.streamOnce.Do(func() { err = stream.Close(graceful) })
	return err
}

// Done is closed when the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} { return s.closed }

func (s *Session) NextSeq() uint64 { return s.seq.Add(1) }

func (s *Session) CountFrame(n int) {
	s.frames.Add(1)
	s.bytes.Add(uint64(n))
}

type Stats struct {
	Events uint64
	Frames uint64
	Bytes  uint64
}

func (s *Session) Stats() Stats {
	return Stats{Events: s.seq.Load(), Frames: s.frames.Load(), Bytes: s.bytes.Load()}
}
