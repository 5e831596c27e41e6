package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestViolationLimiterClosesAfterLimit(t *testing.T) {
	rl := NewViolationLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		require.True(t, rl.Allow("c1"))
	}
	require.False(t, rl.Allow("c1"))
	require.True(t, rl.Allow("c2"))

	rl.Forget("c1")
	require.True(t, rl.Allow("c1"))
}

func TestViolationLimiterWindowSlides(t *testing.T) {
	rl := NewViolationLimiter(1, 20*time.Millisecond)
	require.True(t, rl.Allow("c1"))
	require.False(t, rl.Allow("c1"))
	time.Sleep(30 * time.Millisecond)
	require.True(t, rl.Allow("c1"))
}

func TestViolationLimiterDefaults(t *testing.T) {
	rl := NewViolationLimiter(0, 0)
	require.Equal(t, DefaultMaxViolations, rl.limit)
	require.Equal(t, DefaultViolationWindow, rl.interval)
}
