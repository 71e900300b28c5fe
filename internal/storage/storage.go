// Package storage defines persistence interfaces for pagecache.
package storage

import (
	"context"

	pagecache "github.com/eugener/pagecache/internal"
)

// APIKeyStore manages API key persistence.
type APIKeyStore interface {
	CreateKey(ctx context.Context, key *pagecache.APIKey) error
	GetKey(ctx context.Context, id string) (*pagecache.APIKey, error)
	GetKeyByHash(ctx context.Context, hash string) (*pagecache.APIKey, error)
	ListKeys(ctx context.Context, offset, limit int) ([]*pagecache.APIKey, error)
	UpdateKey(ctx context.Context, key *pagecache.APIKey) error
	DeleteKey(ctx context.Context, id string) error
	TouchKeyUsed(ctx context.Context, id string) error
}

// PageViewStore manages page view persistence.
type PageViewStore interface {
	InsertPageViews(ctx context.Context, views []pagecache.PageView) error
	QueryPageViews(ctx context.Context, f pagecache.PageViewFilter) ([]pagecache.PageView, error)
	CountPageViews(ctx context.Context, f pagecache.PageViewFilter) (int, error)
}

// RollupStore manages hourly page view aggregates.
type RollupStore interface {
	UpsertRollups(ctx context.Context, rollups []pagecache.PageViewRollup) error
	QueryRollups(ctx context.Context, f pagecache.RollupFilter) ([]pagecache.PageViewRollup, error)
}

// Store combines all storage interfaces.
type Store interface {
	APIKeyStore
	PageViewStore
	RollupStore
	Ping(ctx context.Context) error
	Close() error
}
