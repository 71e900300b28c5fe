package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/dnscache"
)

func TestDNSRefresher_StopsOnCancel(t *testing.T) {
	t.Parallel()

	d := NewDNSRefresher(&dnscache.Resolver{}, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("refresher did not stop after cancel")
	}
}
