// Package cache stores rendered page envelopes behind a narrow key-value
// backend. Backends may be slow or fail; the Store adapter turns every
// such failure into a miss so the request path never sees a cache error.
package cache

import (
	"context"
	"time"
)

// Backend is a key-value store with per-entry expiry.
type Backend interface {
	// Get returns the value stored under key. Expired entries are misses.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores val under key for ttl.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Sweeper is implemented by backends whose expired entries linger until
// removed explicitly.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}
