package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	pagecache "github.com/eugener/pagecache/internal"
)

// JWTConfig configures JWTAuth.
type JWTConfig struct {
	Secret     []byte // HMAC signing key
	Issuer     string // expected iss, optional
	Audience   string // expected aud, optional
	RolesClaim string // claim holding a list of roles; default "roles"
	Leeway     time.Duration
}

// JWTAuth authenticates HMAC-signed bearer JWTs. A token whose roles
// claim contains the admin role yields an admin identity.
type JWTAuth struct {
	cfg    JWTConfig
	parser *jwt.Parser
}

// NewJWTAuth creates a JWTAuth. The secret must be non-empty.
func NewJWTAuth(cfg JWTConfig) (*JWTAuth, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt: empty secret")
	}
	if cfg.RolesClaim == "" {
		cfg.RolesClaim = "roles"
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &JWTAuth{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

// Authenticate validates the bearer token. Requests without a JWT-shaped
// bearer token, or with an invalid one, return ErrUnauthorized.
func (a *JWTAuth) Authenticate(_ context.Context, r *http.Request) (*pagecache.Identity, error) {
	raw, ok := bearerToken(r)
	if !ok || strings.HasPrefix(raw, pagecache.APIKeyPrefix) || strings.Count(raw, ".") != 2 {
		return nil, pagecache.ErrUnauthorized
	}

	claims := jwt.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: %w: %w", pagecache.ErrUnauthorized, err)
	}

	sub, _ := claims.GetSubject()
	role := "member"
	if slices.Contains(stringList(claims[a.cfg.RolesClaim]), pagecache.RoleAdmin) {
		role = pagecache.RoleAdmin
	}
	return &pagecache.Identity{
		Subject:    sub,
		Role:       role,
		AuthMethod: "jwt",
	}, nil
}

// stringList accepts a claim encoded as a single string or a list of strings.
func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
