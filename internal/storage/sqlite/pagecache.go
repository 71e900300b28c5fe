package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PageCache is a cache backend stored in the page_cache table. It shares
// the Store's connection pools. Expired rows read as misses and are removed
// by DeleteExpired.
type PageCache struct {
	write *sql.DB
	read  *sql.DB
	now   func() time.Time
}

// PageCache returns the page cache backend for s.
func (s *Store) PageCache() *PageCache {
	return &PageCache{write: s.write, read: s.read, now: time.Now}
}

// Get returns the value stored under key when it has not expired.
func (c *PageCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var val []byte
	err := c.read.QueryRowContext(ctx,
		`SELECT value FROM page_cache WHERE key = ? AND expires_at > ?`,
		key, c.now().UnixNano(),
	).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores val under key for ttl, replacing any previous value.
func (c *PageCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	_, err := c.write.ExecContext(ctx,
		`INSERT INTO page_cache (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, val, c.now().Add(ttl).UnixNano(),
	)
	return err
}

// DeleteExpired removes expired rows and returns how many were deleted.
func (c *PageCache) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := c.write.ExecContext(ctx,
		`DELETE FROM page_cache WHERE expires_at <= ?`, c.now().UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
