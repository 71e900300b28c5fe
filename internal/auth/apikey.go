// Package auth identifies callers. API keys and JWTs both resolve to a
// pagecache.Identity; the Oracle turns that identity into the privilege
// bit the cache policy needs.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	pagecache "github.com/eugener/pagecache/internal"
	"github.com/eugener/pagecache/internal/storage"
)

const (
	cacheTTL    = 30 * time.Second // short enough to pick up key revocations promptly
	cacheMaxLen = 10_000
)

// APIKeyAuth authenticates requests using API keys with the "pgc_" prefix.
// Resolved keys are cached in an otter W-TinyLFU cache.
type APIKeyAuth struct {
	store       storage.APIKeyStore
	cache       *otter.Cache[string, *pagecache.APIKey]
	keyIDToHash sync.Map // keyID -> hash for cache invalidation by key ID
	now         func() time.Time
}

// NewAPIKeyAuth returns a new APIKeyAuth backed by store.
func NewAPIKeyAuth(store storage.APIKeyStore) (*APIKeyAuth, error) {
	c, err := otter.New(&otter.Options[string, *pagecache.APIKey]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *pagecache.APIKey](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &APIKeyAuth{store: store, cache: c, now: time.Now}, nil
}

// Authenticate extracts a Bearer token from the Authorization header,
// validates it against the store, and returns the caller's Identity.
// Tokens without the "pgc_" prefix return ErrUnauthorized.
func (a *APIKeyAuth) Authenticate(ctx context.Context, r *http.Request) (*pagecache.Identity, error) {
	raw, ok := bearerToken(r)
	if !ok || !strings.HasPrefix(raw, pagecache.APIKeyPrefix) {
		return nil, pagecache.ErrUnauthorized
	}

	hash := pagecache.HashKey(raw)

	if key, ok := a.cache.GetIfPresent(hash); ok {
		if err := a.usable(key); err != nil {
			a.cache.Invalidate(hash)
			return nil, err
		}
		return keyIdentity(key), nil
	}

	key, err := a.store.GetKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, pagecache.ErrNotFound) {
			return nil, pagecache.ErrUnauthorized
		}
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return nil, pagecache.ErrUnauthorized
	}
	if err := a.usable(key); err != nil {
		return nil, err
	}

	a.cache.Set(hash, key)
	a.keyIDToHash.Store(key.ID, hash)

	// Touch last-used timestamp asynchronously.
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		a.store.TouchKeyUsed(ctx, key.ID) //nolint:errcheck
	}()

	return keyIdentity(key), nil
}

// InvalidateByKeyID removes a cached API key by its key ID.
// Used when admin operations modify or delete a key.
func (a *APIKeyAuth) InvalidateByKeyID(keyID string) {
	if hash, ok := a.keyIDToHash.LoadAndDelete(keyID); ok {
		a.cache.Invalidate(hash.(string))
	}
}

func (a *APIKeyAuth) usable(key *pagecache.APIKey) error {
	if key.Blocked {
		return pagecache.ErrKeyBlocked
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(a.now()) {
		return pagecache.ErrKeyExpired
	}
	return nil
}

func keyIdentity(key *pagecache.APIKey) *pagecache.Identity {
	role := key.Role
	if role == "" {
		role = "member"
	}
	return &pagecache.Identity{
		Subject:    key.KeyPrefix,
		KeyID:      key.ID,
		Role:       role,
		AuthMethod: "apikey",
	}
}

// bearerToken returns the token of an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}
