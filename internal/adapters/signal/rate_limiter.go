package signal

import (
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/domain"
)

const (
	DefaultMaxViolations   = 5
	DefaultViolationWindow = time.Minute
)

// ViolationLimiter counts protocol violations per connection over a sliding window.
type ViolationLimiter struct {
	mu       sync.Mutex
	history  map[domain.ConnID][]time.Time
	limit    int
	interval time.Duration
}

func NewViolationLimiter(limit int, interval time.Duration) *ViolationLimiter {
	if limit <= 0 {
		limit = DefaultMaxViolations
	}
	if interval <= 0 {
		interval = DefaultViolationWindow
	}
	return &ViolationLimiter{
		history:  make(map[domain.ConnID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

// Allow records one violation and reports whether the connection is still under the limit.
func (rl *ViolationLimiter) Allow(id domain.ConnID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	fresh = append(fresh, now)
	rl.history[id] = fresh

	return len(fresh) <= rl.limit
}

func (rl *ViolationLimiter) Forget(id domain.ConnID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, id)
}
