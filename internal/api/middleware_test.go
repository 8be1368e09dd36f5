package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterPerKey(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	defer rl.Close()

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
	assert.Equal(t, 0, rl.Remaining("10.0.0.1"))
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()

	rl.Allow("a")
	rl.Allow("b")

	rl.evictIdle(time.Now().Add(rl.idleTTL + time.Second))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.visitors)
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "时间线不存在: t1", sanitizeErrorMessage("时间线不存在: t1"))
	assert.Equal(t, "An internal error occurred", sanitizeErrorMessage("bad API_KEY provided"))
}
