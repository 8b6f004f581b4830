package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_CleanupStops(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		rl.Cleanup(stop)
		close(done)
	}()

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Cleanup() did not return after stop was closed")
	}
}

func TestRateLimiter_SweepDropsIdleClients(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	now = now.Add(rl.idle + time.Second)
	rl.sweep()
	assert.Empty(t, rl.visitors)
	assert.True(t, rl.Allow("10.0.0.1"))
}
