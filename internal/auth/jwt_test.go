package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	pagecache "github.com/eugener/pagecache/internal"
)

var testSecret = []byte("test-secret-0123456789")

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewJWTAuth_EmptySecret(t *testing.T) {
	t.Parallel()
	if _, err := NewJWTAuth(JWTConfig{}); err == nil {
		t.Error("empty secret should be rejected")
	}
}

func TestJWTAuth_Authenticate(t *testing.T) {
	t.Parallel()
	a, err := NewJWTAuth(JWTConfig{Secret: testSecret, Issuer: "editor", Audience: "pagecache"})
	if err != nil {
		t.Fatal(err)
	}
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name      string
		token     string
		wantErr   bool
		wantAdmin bool
	}{
		{
			name:      "admin list",
			token:     signToken(t, testSecret, jwt.MapClaims{"sub": "ada", "iss": "editor", "aud": "pagecache", "exp": exp, "roles": []string{"viewer", "admin"}}),
			wantAdmin: true,
		},
		{
			name:      "admin string",
			token:     signToken(t, testSecret, jwt.MapClaims{"sub": "ada", "iss": "editor", "aud": "pagecache", "exp": exp, "roles": "admin"}),
			wantAdmin: true,
		},
		{
			name:  "member",
			token: signToken(t, testSecret, jwt.MapClaims{"sub": "bob", "iss": "editor", "aud": "pagecache", "exp": exp}),
		},
		{
			name:    "wrong secret",
			token:   signToken(t, []byte("other"), jwt.MapClaims{"sub": "eve", "iss": "editor", "aud": "pagecache", "exp": exp, "roles": "admin"}),
			wantErr: true,
		},
		{
			name:    "expired",
			token:   signToken(t, testSecret, jwt.MapClaims{"sub": "ada", "iss": "editor", "aud": "pagecache", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantErr: true,
		},
		{
			name:    "wrong issuer",
			token:   signToken(t, testSecret, jwt.MapClaims{"sub": "ada", "iss": "other", "aud": "pagecache", "exp": exp}),
			wantErr: true,
		},
		{
			name:    "wrong audience",
			token:   signToken(t, testSecret, jwt.MapClaims{"sub": "ada", "iss": "editor", "aud": "billing", "exp": exp}),
			wantErr: true,
		},
		{name: "api key", token: testKey, wantErr: true},
		{name: "garbage", token: "not-a-jwt", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id, err := a.Authenticate(context.Background(), makeRequest(tt.token))
			if tt.wantErr {
				if !errors.Is(err, pagecache.ErrUnauthorized) {
					t.Errorf("err = %v, want ErrUnauthorized", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id.IsAdmin() != tt.wantAdmin {
				t.Errorf("IsAdmin = %v, want %v", id.IsAdmin(), tt.wantAdmin)
			}
			if id.AuthMethod != "jwt" {
				t.Errorf("AuthMethod = %q, want jwt", id.AuthMethod)
			}
		})
	}
}

func TestJWTAuth_RejectsNoneAlg(t *testing.T) {
	t.Parallel()
	a, err := NewJWTAuth(JWTConfig{Secret: testSecret})
	if err != nil {
		t.Fatal(err)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x", "roles": "admin"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Authenticate(context.Background(), makeRequest(tok)); !errors.Is(err, pagecache.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}
