package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pagecache "github.com/eugener/pagecache/internal"
	"github.com/eugener/pagecache/internal/testutil"
)

const testKey = "pgc_test_key_12345678901234567890"

func newTestAuth(t *testing.T) (*APIKeyAuth, *testutil.FakeStore) {
	t.Helper()
	store := testutil.NewFakeStore()
	auth, err := NewAPIKeyAuth(store)
	if err != nil {
		t.Fatal(err)
	}
	return auth, store
}

func makeRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/news", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)
	store.AddKey(testKey, &pagecache.APIKey{ID: "key-1", KeyPrefix: "pgc_test_key", Role: pagecache.RoleAdmin})

	id, err := auth.Authenticate(context.Background(), makeRequest(testKey))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Subject != "pgc_test_key" || id.KeyID != "key-1" {
		t.Errorf("identity = %+v", id)
	}
	if !id.IsAdmin() {
		t.Error("admin key should yield admin identity")
	}
	if id.AuthMethod != "apikey" {
		t.Errorf("AuthMethod = %q, want apikey", id.AuthMethod)
	}
}

func TestAPIKeyAuth_EmptyRoleDefaultsMember(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)
	store.AddKey(testKey, &pagecache.APIKey{ID: "key-1", KeyPrefix: "pgc_test_key"})

	id, err := auth.Authenticate(context.Background(), makeRequest(testKey))
	if err != nil {
		t.Fatal(err)
	}
	if id.Role != "member" || id.IsAdmin() {
		t.Errorf("Role = %q, want member", id.Role)
	}
}

func TestAPIKeyAuth_Rejects(t *testing.T) {
	t.Parallel()
	auth, _ := newTestAuth(t)

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"wrong prefix", "Bearer sk_live_abc"},
		{"unknown key", "Bearer pgc_unknown"},
		{"empty bearer", "Bearer "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if _, err := auth.Authenticate(context.Background(), r); !errors.Is(err, pagecache.ErrUnauthorized) {
				t.Errorf("err = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestAPIKeyAuth_CacheHit(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)
	store.AddKey(testKey, &pagecache.APIKey{ID: "key-1", KeyPrefix: "pgc_test_key"})

	if _, err := auth.Authenticate(context.Background(), makeRequest(testKey)); err != nil {
		t.Fatal(err)
	}
	// otter processes Set asynchronously; wait briefly.
	time.Sleep(50 * time.Millisecond)

	// Remove from store -- second call should hit cache.
	if err := store.DeleteKey(context.Background(), "key-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := auth.Authenticate(context.Background(), makeRequest(testKey)); err != nil {
		t.Fatalf("cache miss: %v", err)
	}

	auth.InvalidateByKeyID("key-1")
	if _, err := auth.Authenticate(context.Background(), makeRequest(testKey)); !errors.Is(err, pagecache.ErrUnauthorized) {
		t.Errorf("after invalidation err = %v, want ErrUnauthorized", err)
	}
}

func TestAPIKeyAuth_BlockedKey(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)
	store.AddKey(testKey, &pagecache.APIKey{ID: "key-1", KeyPrefix: "pgc_test_key", Blocked: true})

	if _, err := auth.Authenticate(context.Background(), makeRequest(testKey)); !errors.Is(err, pagecache.ErrKeyBlocked) {
		t.Errorf("err = %v, want ErrKeyBlocked", err)
	}
}

func TestAPIKeyAuth_ExpiredKey(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)
	past := time.Now().Add(-time.Hour)
	store.AddKey(testKey, &pagecache.APIKey{ID: "key-1", KeyPrefix: "pgc_test_key", ExpiresAt: &past})

	if _, err := auth.Authenticate(context.Background(), makeRequest(testKey)); !errors.Is(err, pagecache.ErrKeyExpired) {
		t.Errorf("err = %v, want ErrKeyExpired", err)
	}
}

func TestAPIKeyAuth_ExpiresWhileCached(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)
	exp := time.Now().Add(time.Hour)
	store.AddKey(testKey, &pagecache.APIKey{ID: "key-1", KeyPrefix: "pgc_test_key", ExpiresAt: &exp})

	if _, err := auth.Authenticate(context.Background(), makeRequest(testKey)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	auth.now = func() time.Time { return exp.Add(time.Second) }
	if _, err := auth.Authenticate(context.Background(), makeRequest(testKey)); !errors.Is(err, pagecache.ErrKeyExpired) {
		t.Errorf("err = %v, want ErrKeyExpired", err)
	}
}

func TestAPIKeyAuth_TouchKeyUsed(t *testing.T) {
	t.Parallel()
	auth, store := newTestAuth(t)
	store.AddKey(testKey, &pagecache.APIKey{ID: "key-1", KeyPrefix: "pgc_test_key"})

	if _, err := auth.Authenticate(context.Background(), makeRequest(testKey)); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for store.TouchCount("key-1") == 0 {
		select {
		case <-deadline:
			t.Fatal("TouchKeyUsed was not called")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
