// Package ratelimit implements per-key events-per-minute throttling with
// lazy-refill token buckets. It keeps repetitive log lines (such as
// unknown-cookie warnings) from flooding the output.
package ratelimit

import (
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
)

// Bucket is a token bucket with lazy refill (no background goroutine).
type Bucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastFill time.Time
}

func newBucket(perMinute int, now time.Time) *Bucket {
	return &Bucket{
		tokens:   float64(perMinute),
		max:      float64(perMinute),
		rate:     float64(perMinute) / 60.0,
		lastFill: now,
	}
}

// refill adds tokens based on elapsed time since last refill.
func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.max, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

// tryConsume attempts to consume one token.
func (b *Bucket) tryConsume(now time.Time) bool {
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Throttle bounds.
const (
	DefaultMaxKeys = 10_000
	idleTTL        = 10 * time.Minute
)

type entry struct {
	mu      sync.Mutex
	bucket  *Bucket
	dropped int64 // events suppressed since the last allowed one
}

// Throttle holds one bucket per key, all sharing the same per-minute limit.
// Keys are held in a size-bounded otter cache and expire after sitting idle.
// A limit of 0 or less disables throttling.
type Throttle struct {
	perMinute int
	entries   *otter.Cache[string, *entry]
	now       func() time.Time
}

// NewThrottle creates a throttle allowing perMinute events per key and
// tracking at most DefaultMaxKeys keys.
func NewThrottle(perMinute int) *Throttle {
	return newThrottle(perMinute, DefaultMaxKeys)
}

func newThrottle(perMinute, maxKeys int) *Throttle {
	return &Throttle{
		perMinute: perMinute,
		entries: otter.Must(&otter.Options[string, *entry]{
			MaximumSize:      maxKeys,
			ExpiryCalculator: otter.ExpiryAccessing[string, *entry](idleTTL),
		}),
		now: time.Now,
	}
}

// Allow reports whether an event for key may proceed. When allowed, it also
// returns how many events for key were suppressed since the previous allowed one.
// A key evicted under size pressure starts over with a full bucket.
func (t *Throttle) Allow(key string) (allowed bool, suppressed int64) {
	if t.perMinute <= 0 {
		return true, 0
	}
	now := t.now()

	e, ok := t.entries.GetIfPresent(key)
	if !ok {
		e, _ = t.entries.SetIfAbsent(key, &entry{bucket: newBucket(t.perMinute, now)})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.bucket.tryConsume(now) {
		e.dropped++
		return false, 0
	}
	suppressed, e.dropped = e.dropped, 0
	return true, suppressed
}

// Len returns the approximate number of tracked keys.
func (t *Throttle) Len() int {
	t.entries.CleanUp()
	return t.entries.EstimatedSize()
}
