package security

import (
	"sync"
	"time"
)

// RateLimiter bounds how many turns one (project, player, NPC) scope may start
// over time.
type RateLimiter interface {
	// Check reports whether another turn may start for the scope. A denied
	// check consumes nothing.
	Check(projectID, playerID, npcID string) bool
}

// limiterKey scopes a token bucket.
type limiterKey struct {
	projectID string
	playerID  string
	npcID     string
}

// bucket is a classic token bucket refilled continuously.
type bucket struct {
	tokens   float64
	lastFill time.Time
}

// TokenBucketLimiter is the default RateLimiter: each scope gets Burst tokens
// that refill at Rate tokens per second. All methods are safe for concurrent
// use.
type TokenBucketLimiter struct {
	// Rate is tokens added per second. Must be > 0.
	Rate float64

	// Burst is the bucket capacity. Must be >= 1.
	Burst float64

	mu      sync.Mutex
	buckets map[limiterKey]*bucket
	now     func() time.Time
}

// Compile-time check that TokenBucketLimiter satisfies RateLimiter.
var _ RateLimiter = (*TokenBucketLimiter)(nil)

// NewTokenBucketLimiter creates a limiter allowing burst turns immediately and
// rate turns per second sustained.
func NewTokenBucketLimiter(rate, burst float64) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		Rate:    rate,
		Burst:   burst,
		buckets: make(map[limiterKey]*bucket),
		now:     time.Now,
	}
}

// Check implements RateLimiter. It consumes one token when available.
func (l *TokenBucketLimiter) Check(projectID, playerID, npcID string) bool {
	key := limiterKey{projectID: projectID, playerID: playerID, npcID: npcID}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.Burst, lastFill: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * l.Rate
		if b.tokens > l.Burst {
			b.tokens = l.Burst
		}
		b.lastFill = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
