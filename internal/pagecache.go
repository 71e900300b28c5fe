// Package pagecache defines domain types and interfaces for the pagecache
// read-through response cache.
// This package has no project imports -- it is the dependency root.
package pagecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

// --- Request descriptor ---

// Cookie is a single request cookie as seen by the cacheability policy.
type Cookie struct {
	Name  string
	Value string
}

// Descriptor describes one inbound request for the purposes of caching.
// It is built once per request by the transport layer and never mutated.
type Descriptor struct {
	Method     string
	URL        string   // verbatim cache key, no normalization
	Cookies    []Cookie // request order
	Privileged bool
	RequestID  string // correlation only, not part of the key
}

// Cookie returns the value of the named cookie and whether it was present.
func (d *Descriptor) Cookie(name string) (string, bool) {
	for _, c := range d.Cookies {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// --- Identity ---

// RoleAdmin is the role that marks a caller as privileged.
const RoleAdmin = "admin"

// APIKey represents an API key for authenticating operators.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`          // SHA-256 hex, never exposed
	KeyPrefix  string     `json:"key_prefix"` // first 12 chars for display
	Role       string     `json:"role"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Blocked    bool       `json:"blocked"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Identity is the authenticated caller attached to request context.
// Populated by either JWT or API key auth.
type Identity struct {
	Subject    string `json:"subject"` // JWT sub or key prefix
	KeyID      string `json:"key_id,omitempty"`
	Role       string `json:"role"`
	AuthMethod string `json:"auth_method"` // "jwt" or "apikey"
}

// IsAdmin reports whether the identity carries the admin role.
func (id *Identity) IsAdmin() bool { return id != nil && id.Role == RoleAdmin }

// --- Analytics ---

// PageView is a single analytics event for a tagged page.
type PageView struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Tag       string    `json:"tag"`
	FromCache bool      `json:"from_cache"`
	RequestID string    `json:"request_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PageViewFilter holds query parameters for page view queries.
type PageViewFilter struct {
	Tag    string
	Since  string // RFC3339
	Until  string // RFC3339
	Offset int
	Limit  int
}

// PageViewRollup is an hourly aggregate of page views for one tag.
type PageViewRollup struct {
	Tag         string `json:"tag"`
	Period      string `json:"period"` // "hourly"
	Bucket      string `json:"bucket"` // RFC3339 start of the hour
	Views       int64  `json:"views"`
	CachedViews int64  `json:"cached_views"`
}

// RollupFilter holds query parameters for rollup queries.
type RollupFilter struct {
	Tag    string
	Period string
	Since  string
	Until  string
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Identity field is set later by the admin middleware via mutation
// of the same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	Identity  *Identity
	Outcome   string
}

// metaFromContext returns the requestMeta stored in ctx, or nil.
func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if present,
// avoiding a new context.WithValue allocation. Falls back to creating new metadata
// if none exists (e.g., in tests).
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// SetCacheOutcome records how the cache treated the request ("hit", "miss",
// "bypass", ...) so the logging middleware can report it at exit.
// It is a no-op when ctx carries no request metadata.
func SetCacheOutcome(ctx context.Context, outcome string) {
	if m := metaFromContext(ctx); m != nil {
		m.Outcome = outcome
	}
}

// CacheOutcomeFromContext returns the outcome set by SetCacheOutcome.
func CacheOutcomeFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.Outcome
	}
	return ""
}

// --- Shared constants and helpers ---

// APIKeyPrefix is the prefix for all pagecache API keys.
const APIKeyPrefix = "pgc_"

// HashKey returns the hex-encoded SHA-256 hash of a raw API key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// --- Authenticator interface ---

// Authenticator validates request credentials and returns the caller identity.
// Implementations return ErrUnauthorized when the request carries no
// credentials they recognize.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// --- Privilege oracle ---

// PrivilegeOracle reports whether the caller of r is privileged (an admin
// or otherwise entitled to see uncached, possibly unpublished content).
// It is consulted once per request.
type PrivilegeOracle interface {
	Privileged(ctx context.Context, r *http.Request) bool
}

// PrivilegeOracleFunc adapts a function to PrivilegeOracle.
type PrivilegeOracleFunc func(ctx context.Context, r *http.Request) bool

// Privileged calls f(ctx, r).
func (f PrivilegeOracleFunc) Privileged(ctx context.Context, r *http.Request) bool { return f(ctx, r) }
