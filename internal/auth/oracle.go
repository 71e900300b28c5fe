package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	pagecache "github.com/eugener/pagecache/internal"
)

// Oracle tries a list of authenticators in order. It implements both
// pagecache.Authenticator and pagecache.PrivilegeOracle.
type Oracle struct {
	authenticators []pagecache.Authenticator
}

// NewOracle creates an Oracle. Nil authenticators are skipped.
func NewOracle(authenticators ...pagecache.Authenticator) *Oracle {
	o := &Oracle{}
	for _, a := range authenticators {
		if a != nil {
			o.authenticators = append(o.authenticators, a)
		}
	}
	return o
}

// Authenticate returns the identity from the first authenticator that
// recognizes the request's credentials. ErrUnauthorized from one
// authenticator moves on to the next; any other error stops the chain.
func (o *Oracle) Authenticate(ctx context.Context, r *http.Request) (*pagecache.Identity, error) {
	for _, a := range o.authenticators {
		id, err := a.Authenticate(ctx, r)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, pagecache.ErrUnauthorized) {
			return nil, err
		}
	}
	return nil, pagecache.ErrUnauthorized
}

// Privileged reports whether r comes from an admin. Missing or invalid
// credentials mean anonymous. If the lookup itself fails the caller is
// treated as privileged so the response bypasses the cache.
func (o *Oracle) Privileged(ctx context.Context, r *http.Request) bool {
	if r.Header.Get("Authorization") == "" {
		return false
	}
	id, err := o.Authenticate(ctx, r)
	switch {
	case err == nil:
		return id.IsAdmin()
	case errors.Is(err, pagecache.ErrUnauthorized),
		errors.Is(err, pagecache.ErrKeyBlocked),
		errors.Is(err, pagecache.ErrKeyExpired):
		return false
	default:
		slog.LogAttrs(ctx, slog.LevelWarn, "privilege check failed, bypassing cache",
			slog.String("error", err.Error()),
		)
		return true
	}
}
