package ratelimit

import (
	"sync"
	"time"
)

// ring is a fixed-size circular buffer of counts, one per bucket. A
// bucket holds the count of events in one slot of wall-clock time
// (bucketSpan wide); slots are addressed by (unix-time / bucketSpan) mod
// len(counts), so an old slot is lazily recognized as stale by comparing
// its stored epoch against the slot a new event would occupy.
type ring struct {
	bucketSpan time.Duration
	counts     []int64
	epochs     []int64 // which bucket-index epoch each slot currently holds
}

func newRing(bucketSpan time.Duration, numBuckets int) *ring {
	return &ring{
		bucketSpan: bucketSpan,
		counts:     make([]int64, numBuckets),
		epochs:     make([]int64, numBuckets),
	}
}

func (r *ring) epochAt(t time.Time) int64 {
	return t.UnixNano() / int64(r.bucketSpan)
}

// sweep zeroes any slot whose epoch has rolled out of the window ending
// at now, i.e. every slot except the one currently addressed by each
// live epoch in [now-window, now].
func (r *ring) sweep(now time.Time) {
	nowEpoch := r.epochAt(now)
	n := int64(len(r.counts))
	for i := range r.counts {
		slot := int64(i)
		liveEpoch := r.epochs[i]
		// A slot is live only if it's within the last len(counts) epochs
		// AND its index matches where that epoch would currently land.
		if nowEpoch-liveEpoch >= n || liveEpoch%n != slot {
			r.counts[i] = 0
		}
	}
}

// add increments the bucket for now by 1 and returns the total count
// across every still-live bucket (the sliding-window sum).
func (r *ring) add(now time.Time) int64 {
	r.sweep(now)
	n := int64(len(r.counts))
	epoch := r.epochAt(now)
	idx := epoch % n
	if r.epochs[idx] != epoch {
		r.counts[idx] = 0
		r.epochs[idx] = epoch
	}
	r.counts[idx]++

	var total int64
	for _, c := range r.counts {
		total += c
	}
	return total
}

type keyCounters struct {
	minute *ring // 60 buckets of 1s
	hour   *ring // 60 buckets of 1m
	day    *ring // 24 buckets of 1h
}

func newKeyCounters() *keyCounters {
	return &keyCounters{
		minute: newRing(time.Second, 60),
		hour:   newRing(time.Minute, 60),
		day:    newRing(time.Hour, 24),
	}
}

func (k *keyCounters) ringFor(w Window) *ring {
	switch w {
	case WindowMinute:
		return k.minute
	case WindowHour:
		return k.hour
	default:
		return k.day
	}
}

// MemoryLimiter is the default in-process Limiter backend: one
// keyCounters per rate-limit key, striped behind a single map mutex
// (contention is low — the hot path is three O(60) ring sweeps, not lock
// hold time).
type MemoryLimiter struct {
	mu      sync.Mutex
	byKey   map[string]*keyCounters
	nowFunc func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		byKey:   make(map[string]*keyCounters),
		nowFunc: time.Now,
	}
}

// Check implements Limiter: a permitted call is counted in all three
// windows; a rejected call (any window exceeded) is counted in none.
func (m *MemoryLimiter) Check(key string, limits Limits) (Result, error) {
	now := m.nowFunc()

	m.mu.Lock()
	defer m.mu.Unlock()
	kc, ok := m.byKey[key]
	if !ok {
		kc = newKeyCounters()
		m.byKey[key] = kc
	}

	result := Result{Allowed: true, Windows: make(map[Window]WindowStatus, 3)}

	for _, w := range []Window{WindowMinute, WindowHour, WindowDay} {
		limit := limits.forWindow(w)
		r := kc.ringFor(w)
		count := r.add(now)

		remaining := int(int64(limit) - count)
		if remaining < 0 {
			remaining = 0
		}
		resetAt := now.Add(w.duration())
		result.Windows[w] = WindowStatus{Limit: limit, Remaining: remaining, ResetAt: resetAt}

		if limit > 0 && count > int64(limit) && result.Allowed {
			result.Allowed = false
			result.Violated = w
			result.RetryAfter = w.duration()
		}
	}

	if !result.Allowed {
		for _, w := range []Window{WindowMinute, WindowHour, WindowDay} {
			r := kc.ringFor(w)
			r.counts[r.epochAt(now)%int64(len(r.counts))]--
		}
	}

	return result, nil
}
