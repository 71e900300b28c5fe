// Package app implements application-level services for pagecache.
package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	pagecache "github.com/eugener/pagecache/internal"
	"github.com/eugener/pagecache/internal/storage"
)

// KeyInvalidator drops cached credentials for a deleted key.
type KeyInvalidator interface {
	InvalidateByKeyID(keyID string)
}

// KeyManager handles API key lifecycle (create, list, delete).
type KeyManager struct {
	store       storage.APIKeyStore
	invalidator KeyInvalidator
	now         func() time.Time
}

// NewKeyManager returns a KeyManager backed by store. invalidator may be nil.
func NewKeyManager(store storage.APIKeyStore, invalidator KeyInvalidator) *KeyManager {
	return &KeyManager{store: store, invalidator: invalidator, now: time.Now}
}

// CreateKeyOpts holds all fields for API key creation.
type CreateKeyOpts struct {
	Name      string
	Role      string
	ExpiresAt *time.Time
}

// CreateKey generates a new API key with the given options, stores its hash,
// and returns the plaintext (shown once) along with the persisted APIKey record.
func (km *KeyManager) CreateKey(ctx context.Context, opts CreateKeyOpts) (string, *pagecache.APIKey, error) {
	role := opts.Role
	switch role {
	case "":
		role = "member"
	case "member", pagecache.RoleAdmin:
	default:
		return "", nil, fmt.Errorf("%w: unknown role %q", pagecache.ErrBadRequest, role)
	}
	now := km.now().UTC()
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(now) {
		return "", nil, fmt.Errorf("%w: expires_at is in the past", pagecache.ErrBadRequest)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}

	plaintext := pagecache.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)
	prefix := plaintext[:12]

	key := &pagecache.APIKey{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Name:      opts.Name,
		KeyHash:   pagecache.HashKey(plaintext),
		KeyPrefix: prefix,
		Role:      role,
		ExpiresAt: opts.ExpiresAt,
		CreatedAt: now,
	}

	if err := km.store.CreateKey(ctx, key); err != nil {
		return "", nil, err
	}

	return plaintext, key, nil
}

// ListKeys returns one page of keys, newest first.
func (km *KeyManager) ListKeys(ctx context.Context, offset, limit int) ([]*pagecache.APIKey, error) {
	return km.store.ListKeys(ctx, offset, limit)
}

// DeleteKey removes the API key with the given ID and evicts it from the
// authentication cache.
func (km *KeyManager) DeleteKey(ctx context.Context, id string) error {
	if err := km.store.DeleteKey(ctx, id); err != nil {
		return err
	}
	if km.invalidator != nil {
		km.invalidator.InvalidateByKeyID(id)
	}
	return nil
}
