package cache

import (
	"context"
	"testing"
	"time"
)

func newTestMemory(t *testing.T) (*Memory, *time.Time) {
	t.Helper()
	m, err := NewMemory(100, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestMemory_GetSet(t *testing.T) {
	t.Parallel()
	m, _ := newTestMemory(t)
	ctx := context.Background()

	if _, ok, _ := m.Get(ctx, "missing"); ok {
		t.Error("should not find missing key")
	}

	if err := m.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatal(err)
	}
	// otter processes Set asynchronously; wait briefly.
	time.Sleep(50 * time.Millisecond)

	val, ok, err := m.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("Get(k1) = %v, %v; want hit", ok, err)
	}
	if string(val) != "v1" {
		t.Errorf("value = %q, want %q", val, "v1")
	}
}

func TestMemory_TTLBoundary(t *testing.T) {
	t.Parallel()
	m, now := newTestMemory(t)
	ctx := context.Background()

	ttl := 3600 * time.Second
	_ = m.Set(ctx, "page", []byte("body"), ttl)
	time.Sleep(50 * time.Millisecond)

	*now = now.Add(ttl - time.Nanosecond)
	if _, ok, _ := m.Get(ctx, "page"); !ok {
		t.Fatal("entry should be served just before its lifetime ends")
	}

	*now = now.Add(time.Nanosecond)
	if _, ok, _ := m.Get(ctx, "page"); ok {
		t.Fatal("entry should expire exactly at its lifetime")
	}
}

func TestMemory_Overwrite(t *testing.T) {
	t.Parallel()
	m, _ := newTestMemory(t)
	ctx := context.Background()

	_ = m.Set(ctx, "k", []byte("old"), time.Minute)
	_ = m.Set(ctx, "k", []byte("new"), time.Minute)
	time.Sleep(50 * time.Millisecond)

	val, _, _ := m.Get(ctx, "k")
	if string(val) != "new" {
		t.Errorf("value = %q, want %q", val, "new")
	}
}
