package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/eugener/pagecache/internal/cache"
)

const defaultSweepInterval = time.Minute

// CacheSweeper periodically removes expired entries from a backend that
// does not evict on its own.
type CacheSweeper struct {
	sweeper  cache.Sweeper
	interval time.Duration
}

// NewCacheSweeper creates a sweeper. A non-positive interval uses one minute.
func NewCacheSweeper(s cache.Sweeper, interval time.Duration) *CacheSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &CacheSweeper{sweeper: s, interval: interval}
}

// Name returns the worker identifier.
func (w *CacheSweeper) Name() string { return "cache_sweeper" }

// Run sweeps on a fixed interval until ctx is cancelled.
func (w *CacheSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *CacheSweeper) sweep(ctx context.Context) {
	n, err := w.sweeper.DeleteExpired(ctx)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "cache sweep failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		slog.LogAttrs(ctx, slog.LevelDebug, "cache sweep completed",
			slog.Int64("deleted", n),
		)
	}
}
