package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	pagecache "github.com/eugener/pagecache/internal"
	"github.com/eugener/pagecache/internal/telemetry"
)

type fakePageViewStore struct {
	mu      sync.Mutex
	batches [][]pagecache.PageView
}

func (s *fakePageViewStore) InsertPageViews(_ context.Context, views []pagecache.PageView) error {
	s.mu.Lock()
	s.batches = append(s.batches, views)
	s.mu.Unlock()
	return nil
}

func (s *fakePageViewStore) all() []pagecache.PageView {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pagecache.PageView
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func waitForViews(t *testing.T, store *fakePageViewStore, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for len(store.all()) < n {
		select {
		case <-deadline:
			t.Fatalf("views not flushed; got %d, want %d", len(store.all()), n)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestPageViewRecorder_BatchOnSize(t *testing.T) {
	t.Parallel()
	store := &fakePageViewStore{}
	rec := NewPageViewRecorder(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	d := &pagecache.Descriptor{Method: "GET", URL: "http://example.com/a", RequestID: "req-1"}
	for range pageViewBatchSize {
		rec.Record(d, "article", false)
	}
	waitForViews(t, store, pageViewBatchSize)

	cancel()
	<-done
}

func TestPageViewRecorder_Fields(t *testing.T) {
	t.Parallel()
	store := &fakePageViewStore{}
	rec := NewPageViewRecorder(store, nil)
	fixed := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	rec.now = func() time.Time { return fixed }

	d := &pagecache.Descriptor{Method: "GET", URL: "http://example.com/a", RequestID: "req-7"}
	rec.Record(d, "article", true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx) // drains and returns

	views := store.all()
	if len(views) != 1 {
		t.Fatalf("views = %d, want 1", len(views))
	}
	v := views[0]
	if v.ID == "" {
		t.Error("ID not assigned")
	}
	if v.URL != d.URL || v.Tag != "article" || !v.FromCache || v.RequestID != "req-7" {
		t.Errorf("view = %+v", v)
	}
	if !v.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", v.CreatedAt, fixed)
	}
}

func TestPageViewRecorder_DrainOnShutdown(t *testing.T) {
	t.Parallel()
	store := &fakePageViewStore{}
	rec := NewPageViewRecorder(store, nil)

	d := &pagecache.Descriptor{URL: "http://example.com/"}
	for range 5 {
		rec.Record(d, "home", false)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rec.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(store.all()); n != 5 {
		t.Errorf("drained %d views, want 5", n)
	}
}

func TestPageViewRecorder_DropsWhenFull(t *testing.T) {
	t.Parallel()
	m := telemetry.NewMetrics(prometheus.NewPedanticRegistry())
	rec := NewPageViewRecorder(&fakePageViewStore{}, m)

	d := &pagecache.Descriptor{URL: "http://example.com/"}
	for range pageViewChanSize + 3 {
		rec.Record(d, "home", false)
	}

	if got := testutil.ToFloat64(m.PageViewsDropped); got != 3 {
		t.Errorf("dropped = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.PageViewQueueLength); got != pageViewChanSize {
		t.Errorf("queue length = %v, want %d", got, pageViewChanSize)
	}
}
