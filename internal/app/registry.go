package app

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound          = errors.New("connection not found")
	ErrAlreadyRegistered = errors.New("connection already registered")
)

type connEntry struct {
	id       domain.ConnID
	conn     core.SignalConnection
	token    string
	identity *domain.Identity
	alive    atomic.Bool
	lastPong atomic.Int64
}

// Entry is a point-in-time copy of one registry row.
type Entry struct {
	ID          domain.ConnID
	Conn        core.SignalConnection
	ClientToken string
	Identity    domain.Identity
	Registered  bool
	Alive       bool
	LastPong    time.Time
}

func (e *connEntry) snapshot() Entry {
	out := Entry{
		ID:          e.id,
		Conn:        e.conn,
		ClientToken: e.token,
		Alive:       e.alive.Load(),
		LastPong:    time.Unix(0, e.lastPong.Load()),
	}
	if e.identity != nil {
		out.Identity = *e.identity
		out.Registered = true
	}
	return out
}

// Registry maps live client connections to their declared identity.
// Iteration always runs over a snapshot, so callbacks may call back into the registry.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ConnID]*connEntry)}
}

// Track adds a freshly upgraded connection that has not declared an identity yet.
func (r *Registry) Track(id domain.ConnID, conn core.SignalConnection, clientToken string) {
	e := &connEntry{id: id, conn: conn, token: clientToken}
	e.alive.Store(true)
	e.lastPong.Store(time.Now().UnixNano())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = e
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("tracked connection")
}

// Register binds an identity to a tracked connection. Identity is bound at most once.
func (r *Registry) Register(id domain.ConnID, ident domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return ErrNotFound
	}
	if e.identity != nil {
		return ErrAlreadyRegistered
	}
	e.identity = &ident
	log.Info().
		Str("module", "app.registry").
		Str("conn", string(id)).
		Str("meeting", string(ident.Meeting)).
		Str("speaker", string(ident.Speaker)).
		Str("role", string(ident.Role)).
		Msg("registered connection")
	return nil
}

// Unregister removes the connection and reports whether it was present.
func (r *Registry) Unregister(id domain.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unregistered connection")
	return true
}

func (r *Registry) Get(id domain.ConnID) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e.snapshot(), nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns every tracked connection, registered or not.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.conns))
	for _, e := range r.conns {
		out = append(out, e.snapshot())
	}
	return out
}

func (r *Registry) inMeeting(meeting domain.MeetingID) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.conns))
	for _, e := range r.conns {
		if e.identity != nil && e.identity.Meeting == meeting {
			out = append(out, e.snapshot())
		}
	}
	return out
}

// ForEachInMeeting calls fn for every registered connection of the meeting.
func (r *Registry) ForEachInMeeting(meeting domain.MeetingID, fn func(Entry)) {
	for _, e := range r.inMeeting(meeting) {
		fn(e)
	}
}

// Broadcast queues data on every open connection of the meeting.
func (r *Registry) Broadcast(meeting domain.MeetingID, data core.Frame) core.PublishResult {
	res := core.PublishResult{}
	r.ForEachInMeeting(meeting, func(e Entry) {
		if !e.Conn.IsOpen() {
			res.Skipped++
			return
		}
		if err := e.Conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, e.ID)
			return
		}
		res.SendTo++
	})
	log.Debug().
		Str("module", "app.registry").
		Str("meeting", string(meeting)).
		Int("sent_to", res.SendTo).
		Int("skipped", res.Skipped).
		Int("dropped", len(res.Dropped)).
		Msg("broadcast result")
	return res
}

// MarkAlive records a pong (or any liveness signal) for the connection.
func (r *Registry) MarkAlive(id domain.ConnID) {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.alive.Store(true)
	e.lastPong.Store(time.Now().UnixNano())
}

// takeAlive clears the liveness flag and returns its previous value.
func (r *Registry) takeAlive(id domain.ConnID) (bool, bool) {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false, false
	}
	return e.alive.Swap(false), true
}

func (r *Registry) Meetings() []core.MeetingInfo {
	counts := make(map[domain.MeetingID]int)
	r.mu.RLock()
	for _, e := range r.conns {
		if e.identity != nil {
			counts[e.identity.Meeting]++
		}
	}
	r.mu.RUnlock()

	out := make([]core.MeetingInfo, 0, len(counts))
	for id, n := range counts {
		out = append(out, core.MeetingInfo{ID: id, ConnectionCount: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) MeetingConnections(meeting domain.MeetingID) []core.ConnectionDTO {
	entries := r.inMeeting(meeting)
	out := make([]core.ConnectionDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, core.ConnectionDTO{
			ID:       e.ID,
			Meeting:  e.Identity.Meeting,
			Speaker:  e.Identity.Speaker,
			Role:     e.Identity.Role,
			Alive:    e.Alive,
			LastPong: e.LastPong,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
