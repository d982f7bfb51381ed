// Package quota throttles how often a client may hit an endpoint. The
// server uses it to slow down guessing of the shared secret.
package quota

import (
	"math"
	"sync"
	"time"
)

// RateLimiter keeps one token bucket per client key. A bucket holds up to
// rpm tokens and refills at rpm per minute.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens   float64
	rpm      int
	updated  time.Time
	lastSeen time.Time
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Take spends one token for key. When the bucket is empty it returns false
// and how long until the next token. rpm <= 0 means unlimited.
func (rl *RateLimiter) Take(key string, rpm int) (bool, time.Duration) {
	if rpm <= 0 {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b := rl.refill(key, rpm, now)
	b.lastSeen = now
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	return false, b.wait()
}

// Allow reports whether a request for key may proceed and spends a token
// if so.
func (rl *RateLimiter) Allow(key string, rpm int) bool {
	ok, _ := rl.Take(key, rpm)
	return ok
}

// Wait returns how long until key has a token again without spending one.
// Unknown clients and clients with tokens left get zero.
func (rl *RateLimiter) Wait(key string, rpm int) time.Duration {
	if rpm <= 0 {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if _, ok := rl.buckets[key]; !ok {
		return 0
	}
	return rl.refill(key, rpm, rl.now()).wait()
}

// RetryAfter returns whole seconds until key has a token again, rounded up.
func (rl *RateLimiter) RetryAfter(key string, rpm int) int {
	return int(math.Ceil(rl.Wait(key, rpm).Seconds()))
}

// RetryAfterSeconds turns a wait into a Retry-After value of at least one
// second.
func RetryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// refill returns key's bucket topped up to now. New clients start full. A
// changed rpm takes effect immediately and caps the stored tokens.
func (rl *RateLimiter) refill(key string, rpm int, now time.Time) *bucket {
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rpm), rpm: rpm, updated: now, lastSeen: now}
		rl.buckets[key] = b
		return b
	}
	b.rpm = rpm
	if elapsed := now.Sub(b.updated); elapsed > 0 {
		b.tokens += float64(elapsed) * float64(rpm) / float64(time.Minute)
	}
	b.tokens = math.Min(b.tokens, float64(rpm))
	b.updated = now
	return b
}

func (b *bucket) wait() time.Duration {
	if b.tokens >= 1 {
		return 0
	}
	missing := 1 - b.tokens
	return time.Duration(missing * float64(time.Minute) / float64(b.rpm))
}

// Cleanup forgets clients not seen within maxAge and returns how many were
// dropped.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxAge)
	dropped := 0
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
