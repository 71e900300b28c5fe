// Package config provides configuration loading and database bootstrapping.
package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	pagecache "github.com/eugener/pagecache/internal"
	"github.com/eugener/pagecache/internal/storage"
)

// Bootstrap seeds API keys from the config file. Keys already present are
// left untouched, so it is safe to run on every start.
func Bootstrap(ctx context.Context, cfg *Config, store storage.APIKeyStore) error {
	seeds := cfg.Keys
	if cfg.Auth.AdminKey != "" {
		seeds = append([]KeyEntry{{Name: "bootstrap-admin", Key: cfg.Auth.AdminKey, Role: pagecache.RoleAdmin}}, seeds...)
	}

	for _, k := range seeds {
		if k.Key == "" {
			continue
		}
		if strings.Contains(k.Key, "${") {
			slog.Warn("skipping api key with unexpanded variable", "name", k.Name)
			continue
		}
		hash := pagecache.HashKey(k.Key)

		existing, _ := store.GetKeyByHash(ctx, hash)
		if existing != nil {
			continue
		}

		prefix := k.Key
		if len(prefix) > 12 {
			prefix = prefix[:12]
		}

		role := k.Role
		if role == "" {
			role = "member"
		}

		key := &pagecache.APIKey{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Name:      k.Name,
			KeyHash:   hash,
			KeyPrefix: prefix,
			Role:      role,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.CreateKey(ctx, key); err != nil {
			return err
		}
		slog.Info("bootstrapped api key", "name", k.Name, "prefix", prefix, "role", role)
	}

	return nil
}

// GenerateAdminKey creates a random admin key and returns the plaintext.
func GenerateAdminKey() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return pagecache.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)
}
