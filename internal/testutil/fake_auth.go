// Package testutil provides configurable test fakes for pagecache interfaces.
package testutil

import (
	"context"
	"net/http"

	pagecache "github.com/eugener/pagecache/internal"
)

// FakeAuth always authenticates successfully as an admin.
type FakeAuth struct{}

// Authenticate returns a test identity with the admin role.
func (FakeAuth) Authenticate(context.Context, *http.Request) (*pagecache.Identity, error) {
	return &pagecache.Identity{
		Subject:    "test",
		Role:       pagecache.RoleAdmin,
		AuthMethod: "apikey",
	}, nil
}

// MemberAuth always authenticates successfully as a non-admin.
type MemberAuth struct{}

// Authenticate returns a test identity with the member role.
func (MemberAuth) Authenticate(context.Context, *http.Request) (*pagecache.Identity, error) {
	return &pagecache.Identity{
		Subject:    "member",
		Role:       "member",
		AuthMethod: "apikey",
	}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*pagecache.Identity, error) {
	return nil, pagecache.ErrUnauthorized
}

// ErrAuth fails every lookup with Err, simulating a broken key store.
type ErrAuth struct{ Err error }

// Authenticate returns a.Err.
func (a ErrAuth) Authenticate(context.Context, *http.Request) (*pagecache.Identity, error) {
	return nil, a.Err
}
