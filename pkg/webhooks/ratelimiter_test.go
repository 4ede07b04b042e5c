package webhooks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedLimiter(limit int, period time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(limit, period)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, clock := newClockedLimiter(3, 3*time.Second)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("203.0.113.9"), "request %d", i)
	}
	assert.False(t, rl.Allow("203.0.113.9"))
	assert.True(t, rl.Allow("198.51.100.7"), "senders have separate buckets")

	clock.advance(time.Second)
	assert.Equal(t, 1, rl.Remaining("203.0.113.9"))
	assert.True(t, rl.Allow("203.0.113.9"))
	assert.False(t, rl.Allow("203.0.113.9"))

	clock.advance(time.Hour)
	assert.Equal(t, 3, rl.Remaining("203.0.113.9"))
}

func TestRateLimiter_Remaining(t *testing.T) {
	rl, _ := newClockedLimiter(5, time.Minute)
	assert.Equal(t, 5, rl.Remaining("unknown"))
	rl.Allow("a")
	assert.Equal(t, 4, rl.Remaining("a"))
}

func TestRateLimiter_Prune(t *testing.T) {
	rl, clock := newClockedLimiter(2, 2*time.Second)
	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("b")

	clock.advance(time.Second)
	assert.Equal(t, 1, rl.Prune())
	assert.Len(t, rl.buckets, 1)

	clock.advance(time.Second)
	assert.Equal(t, 1, rl.Prune())
	assert.Empty(t, rl.buckets)
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, 1, rl.maxTokens)
	assert.Equal(t, time.Millisecond, rl.refillPeriod)
}
