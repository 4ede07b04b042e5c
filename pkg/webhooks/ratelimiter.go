package webhooks

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket per sender address. Providers retry rejected
// deliveries, so limiting only sheds floods of unsigned traffic.
type RateLimiter struct {
	buckets      map[string]*tokenBucket
	mutex        sync.Mutex
	maxTokens    int
	refillPeriod time.Duration
	now          func() time.Time
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter allows maxRequests per sender, refilling one token every
// period/maxRequests
func NewRateLimiter(maxRequests int, period time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	refill := period / time.Duration(maxRequests)
	if refill <= 0 {
		refill = time.Millisecond
	}
	return &RateLimiter{
		buckets:      make(map[string]*tokenBucket),
		maxTokens:    maxRequests,
		refillPeriod: refill,
		now:          time.Now,
	}
}

// Allow takes a token from sender's bucket
func (rl *RateLimiter) Allow(sender string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	bucket, exists := rl.buckets[sender]
	if !exists {
		bucket = &tokenBucket{tokens: rl.maxTokens, lastRefill: rl.now()}
		rl.buckets[sender] = bucket
	}
	rl.refill(bucket)

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}
	return false
}

// Remaining returns the tokens left for sender
func (rl *RateLimiter) Remaining(sender string) int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	bucket, exists := rl.buckets[sender]
	if !exists {
		return rl.maxTokens
	}
	rl.refill(bucket)
	return bucket.tokens
}

// Prune drops buckets that have refilled completely
func (rl *RateLimiter) Prune() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	removed := 0
	for sender, bucket := range rl.buckets {
		rl.refill(bucket)
		if bucket.tokens >= rl.maxTokens {
			delete(rl.buckets, sender)
			removed++
		}
	}
	return removed
}

func (rl *RateLimiter) refill(bucket *tokenBucket) {
	elapsed := rl.now().Sub(bucket.lastRefill)
	if elapsed < rl.refillPeriod {
		return
	}
	periods := int(elapsed / rl.refillPeriod)
	bucket.tokens = min(bucket.tokens+periods, rl.maxTokens)
	bucket.lastRefill = bucket.lastRefill.Add(time.Duration(periods) * rl.refillPeriod)
}
