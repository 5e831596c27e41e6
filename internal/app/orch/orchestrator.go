package orch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/dkeye/Relay/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultDrainTimeout   = 5 * time.Second
)

var (
	ErrAudioBeforeStart = fmt.Errorf("%w: audio before start", protocol.ErrProtocol)
	ErrIdentityMismatch = fmt.Errorf("%w: identity does not match registration", protocol.ErrProtocol)
	ErrSessionActive    = fmt.Errorf("%w: session already active", protocol.ErrProtocol)
	ErrNoSession        = fmt.Errorf("%w: no session", protocol.ErrProtocol)

	ErrEngineUnavailable = errors.New("transcription engine unavailable")
	ErrConnectionGone    = errors.New("connection closed during start")
	ErrShuttingDown      = errors.New("relay shutting down")
)

// Orchestrator is the session relay: it owns one Session per client connection,
// drives the engine stream for it and publishes engine replies to the meeting.
type Orchestrator struct {
	Registry       *app.Registry
	Policy         app.Policy
	Engine         core.Engine
	ConnectTimeout time.Duration
	DrainTimeout   time.Duration

	mu       sync.Mutex
	sessions map[domain.ConnID]*session.Session
	closing  bool
	wg       conc.WaitGroup
}

func New(reg *app.Registry, engine core.Engine, policy app.Policy) *Orchestrator {
	return &Orchestrator{
		Registry:       reg,
		Policy:         policy,
		Engine:         engine,
		ConnectTimeout: DefaultConnectTimeout,
		DrainTimeout:   DefaultDrainTimeout,
		sessions:       make(map[domain.ConnID]*session.Session),
	}
}

// Connect tracks a freshly upgraded connection.
func (o *Orchestrator) Connect(id domain.ConnID, conn core.SignalConnection, clientToken string) {
	o.Registry.Track(id, conn, clientToken)
}

// Identify handles the "connection" handshake.
func (o *Orchestrator) Identify(id domain.ConnID, ident domain.Identity) error {
	if err := o.Registry.Register(id, ident); err != nil {
		return protocol.Violation(err)
	}
	return nil
}

// Disconnect unregisters the connection now and tears its session down in the background.
// Safe to call more than once for the same connection.
func (o *Orchestrator) Disconnect(id domain.ConnID) {
	removed := o.Registry.Unregister(id)

	o.mu.Lock()
	sess := o.sessions[id]
	delete(o.sessions, id)
	o.mu.Unlock()

	if sess != nil && !o.spawn(func() { o.teardown(sess, "connection closed") }) {
		o.teardown(sess, "connection closed")
	}
	if removed {
		log.Info().Str("module", "orch").Str("conn", string(id)).Bool("had_session", sess != nil).Msg("disconnected")
	}
}

// Session returns the session held for a connection. A closed session is kept
// until the connection goes away so late audio is dropped instead of rejected;
// check State before treating it as live.
func (o *Orchestrator) Session(id domain.ConnID) (*session.Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	return s, ok
}

// Shutdown refuses new session work, closes every tracked connection, tears
// its session down and waits for the remaining session goroutines.
// Safe to call more than once.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()

	for _, e := range o.Registry.Snapshot() {
		e.Conn.Close()
		o.Disconnect(e.ID)
	}
	o.wg.Wait()
}

// spawn runs f on the session WaitGroup unless Shutdown has begun.
// Once closing is set no goroutine is added, so Shutdown's Wait never races an Add.
func (o *Orchestrator) spawn(f func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing {
		return false
	}
	o.wg.Go(f)
	return true
}

func (o *Orchestrator) send(id domain.ConnID, f protocol.Frame) {
	e, err := o.Registry.Get(id)
	if err != nil {
		return
	}
	data, err := protocol.Encode(f)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode frame")
		return
	}
	if err := e.Conn.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(id)).Str("type", string(f.Kind())).Msg("send failed")
	}
}
