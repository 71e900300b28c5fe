package testutil

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	pagecache "github.com/eugener/pagecache/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu      sync.RWMutex
	keys    map[string]*pagecache.APIKey // id -> key
	touched map[string]int
	views   []pagecache.PageView
	rollups map[string]pagecache.PageViewRollup // tag|period|bucket -> rollup
	PingErr error
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		keys:    make(map[string]*pagecache.APIKey),
		touched: make(map[string]int),
		rollups: make(map[string]pagecache.PageViewRollup),
	}
}

// AddKey stores key with the hash of raw.
func (s *FakeStore) AddKey(raw string, key *pagecache.APIKey) {
	key.KeyHash = pagecache.HashKey(raw)
	s.mu.Lock()
	s.keys[key.ID] = key
	s.mu.Unlock()
}

// TouchCount returns how many times TouchKeyUsed was called for id.
func (s *FakeStore) TouchCount(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.touched[id]
}

// --- APIKeyStore ---

// CreateKey stores a key. A duplicate hash returns ErrConflict.
func (s *FakeStore) CreateKey(_ context.Context, key *pagecache.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.KeyHash == key.KeyHash {
			return pagecache.ErrConflict
		}
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

// GetKey looks up a key by ID.
func (s *FakeStore) GetKey(_ context.Context, id string) (*pagecache.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, pagecache.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

// GetKeyByHash looks up a key by hash.
func (s *FakeStore) GetKeyByHash(_ context.Context, hash string) (*pagecache.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.KeyHash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, pagecache.ErrNotFound
}

// ListKeys returns keys newest first.
func (s *FakeStore) ListKeys(_ context.Context, offset, limit int) ([]*pagecache.APIKey, error) {
	s.mu.RLock()
	out := make([]*pagecache.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		cp := *k
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *pagecache.APIKey) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return page(out, offset, limit), nil
}

// UpdateKey replaces a stored key.
func (s *FakeStore) UpdateKey(_ context.Context, key *pagecache.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; !ok {
		return pagecache.ErrNotFound
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

// DeleteKey removes a key.
func (s *FakeStore) DeleteKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[id]; !ok {
		return pagecache.ErrNotFound
	}
	delete(s.keys, id)
	return nil
}

// TouchKeyUsed records a touch.
func (s *FakeStore) TouchKeyUsed(_ context.Context, id string) error {
	s.mu.Lock()
	s.touched[id]++
	s.mu.Unlock()
	return nil
}

// --- PageViewStore ---

// InsertPageViews appends views.
func (s *FakeStore) InsertPageViews(_ context.Context, views []pagecache.PageView) error {
	s.mu.Lock()
	s.views = append(s.views, views...)
	s.mu.Unlock()
	return nil
}

// QueryPageViews returns matching views newest first.
func (s *FakeStore) QueryPageViews(_ context.Context, f pagecache.PageViewFilter) ([]pagecache.PageView, error) {
	out := s.matchViews(f)
	slices.SortFunc(out, func(a, b pagecache.PageView) int { return b.CreatedAt.Compare(a.CreatedAt) })
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	return page(out, f.Offset, limit), nil
}

// CountPageViews counts matching views.
func (s *FakeStore) CountPageViews(_ context.Context, f pagecache.PageViewFilter) (int, error) {
	return len(s.matchViews(f)), nil
}

func (s *FakeStore) matchViews(f pagecache.PageViewFilter) []pagecache.PageView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pagecache.PageView
	for _, v := range s.views {
		ts := v.CreatedAt.UTC().Format(time.RFC3339)
		if f.Tag != "" && v.Tag != f.Tag {
			continue
		}
		if f.Since != "" && ts < f.Since {
			continue
		}
		if f.Until != "" && ts >= f.Until {
			continue
		}
		out = append(out, v)
	}
	return out
}

// --- RollupStore ---

// UpsertRollups replaces rollups by (tag, period, bucket).
func (s *FakeStore) UpsertRollups(_ context.Context, rollups []pagecache.PageViewRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rollups {
		s.rollups[r.Tag+"|"+r.Period+"|"+r.Bucket] = r
	}
	return nil
}

// QueryRollups returns matching rollups, newest bucket first.
func (s *FakeStore) QueryRollups(_ context.Context, f pagecache.RollupFilter) ([]pagecache.PageViewRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pagecache.PageViewRollup
	for _, r := range s.rollups {
		if f.Tag != "" && r.Tag != f.Tag {
			continue
		}
		if f.Period != "" && r.Period != f.Period {
			continue
		}
		if f.Since != "" && r.Bucket < f.Since {
			continue
		}
		if f.Until != "" && r.Bucket >= f.Until {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b pagecache.PageViewRollup) int {
		return cmp.Or(cmp.Compare(b.Bucket, a.Bucket), cmp.Compare(a.Tag, b.Tag))
	})
	return out, nil
}

// Ping returns PingErr.
func (s *FakeStore) Ping(context.Context) error { return s.PingErr }

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
