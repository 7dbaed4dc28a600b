package worker

import (
	"sync"
	"time"
)

// tokenBucket is a simple rate limiter bounding how many jobs a Pool
// dispatches per second, independent of its worker concurrency (spec.md
// §4.E: "workers must additionally respect a per-queue dispatch rate").
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	refill   float64 // tokens added per second
	last     time.Time
}

func newTokenBucket(ratePerSecond float64, capacity int) *tokenBucket {
	if ratePerSecond <= 0 {
		return nil // unlimited
	}
	return &tokenBucket{
		tokens:   float64(capacity),
		capacity: float64(capacity),
		refill:   ratePerSecond,
		last:     time.Now(),
	}
}

// Allow reports whether a token is available right now, consuming it if so.
func (b *tokenBucket) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * b.refill
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
