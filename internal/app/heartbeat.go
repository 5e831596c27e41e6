package app

import (
	"context"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultMaxMissed         = 2
)

// Heartbeat is the single process-wide liveness probe over every tracked connection.
// One unanswered probe is tolerated; MaxMissed consecutive misses close the connection.
type Heartbeat struct {
	Registry  *Registry
	Interval  time.Duration
	MaxMissed int
	// OnTimeout runs the regular disconnect path for a pruned connection.
	OnTimeout func(id domain.ConnID)

	missed map[domain.ConnID]int
}

func (h *Heartbeat) Run(ctx context.Context) {
	interval := h.Interval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Str("module", "app.heartbeat").Dur("interval", interval).Msg("heartbeat started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.heartbeat").Msg("heartbeat stopped")
			return
		case <-ticker.C:
			probed, pruned := h.Sweep()
			log.Debug().Str("module", "app.heartbeat").Int("probed", probed).Int("pruned", pruned).Msg("sweep")
		}
	}
}

// Sweep runs one probe round and returns how many connections were probed and pruned.
// Not safe for concurrent use; Run is the only caller outside tests.
func (h *Heartbeat) Sweep() (probed, pruned int) {
	maxMissed := h.MaxMissed
	if maxMissed <= 0 {
		maxMissed = DefaultMaxMissed
	}
	if h.missed == nil {
		h.missed = make(map[domain.ConnID]int)
	}

	seen := make(map[domain.ConnID]struct{})
	for _, e := range h.Registry.Snapshot() {
		answered, ok := h.Registry.takeAlive(e.ID)
		if !ok {
			continue
		}
		seen[e.ID] = struct{}{}
		if answered {
			h.missed[e.ID] = 0
		} else {
			h.missed[e.ID]++
		}
		if n := h.missed[e.ID]; n >= maxMissed {
			log.Warn().Str("module", "app.heartbeat").Str("conn", string(e.ID)).Int("missed", n).Time("last_pong", e.LastPong).Msg("missed probes, closing")
			h.prune(e)
			pruned++
			continue
		}
		if err := e.Conn.Ping(); err != nil {
			log.Warn().Err(err).Str("module", "app.heartbeat").Str("conn", string(e.ID)).Msg("probe write failed, closing")
			h.prune(e)
			pruned++
			continue
		}
		probed++
	}
	for id := range h.missed {
		if _, ok := seen[id]; !ok {
			delete(h.missed, id)
		}
	}
	return probed, pruned
}

func (h *Heartbeat) prune(e Entry) {
	delete(h.missed, e.ID)
	e.Conn.Close()
	if h.OnTimeout != nil {
		h.OnTimeout(e.ID)
		return
	}
	h.Registry.Unregister(e.ID)
}
