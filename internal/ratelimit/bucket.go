// Package ratelimit guards the REST surface with token buckets: one
// global bucket plus optional per-endpoint overrides.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a thread-safe token bucket refilled by elapsed time.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewBucket creates a full bucket with the given burst capacity and
// refill rate in tokens per second.
func NewBucket(capacity, refillRate float64) *Bucket {
	return &Bucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// TryConsume takes n tokens if available.
func (b *Bucket) TryConsume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// refill adds tokens for the elapsed time. Caller holds the mutex.
func (b *Bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// Refund returns n tokens (used when a later check rejects a request
// whose global token was already taken).
func (b *Bucket) Refund(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens += n
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// Tokens reports the available tokens after refill.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// TimeToWait reports how long until n tokens become available.
func (b *Bucket) TimeToWait(n float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()

	if b.tokens >= n {
		return 0
	}
	needed := n - b.tokens
	return time.Duration(needed / b.refillRate * float64(time.Second))
}
