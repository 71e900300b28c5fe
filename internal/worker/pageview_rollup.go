package worker

import (
	"context"
	"log/slog"
	"time"

	pagecache "github.com/eugener/pagecache/internal"
)

const (
	rollupInterval = 5 * time.Minute
	rollupPageSize = 10_000
	rollupPeriod   = "hourly"
)

// RollupStore is the persistence interface consumed by PageViewRollupWorker.
type RollupStore interface {
	QueryPageViews(ctx context.Context, f pagecache.PageViewFilter) ([]pagecache.PageView, error)
	UpsertRollups(ctx context.Context, rollups []pagecache.PageViewRollup) error
}

// PageViewRollupWorker periodically aggregates raw page views into hourly
// rollups per tag.
type PageViewRollupWorker struct {
	store RollupStore
	now   func() time.Time
}

// NewPageViewRollupWorker creates a new rollup worker.
func NewPageViewRollupWorker(store RollupStore) *PageViewRollupWorker {
	return &PageViewRollupWorker{store: store, now: time.Now}
}

// Name returns the worker identifier.
func (w *PageViewRollupWorker) Name() string { return "pageview_rollup" }

// Run aggregates page views into hourly rollups on a periodic schedule.
func (w *PageViewRollupWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(rollupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.rollup(ctx)
		}
	}
}

// rollup recomputes the two most recent complete hours. Stored counts are
// replaced, so late views are picked up on the next pass.
func (w *PageViewRollupWorker) rollup(ctx context.Context) {
	now := w.now().UTC()
	since := now.Add(-2 * time.Hour).Truncate(time.Hour).Format(time.RFC3339)
	until := now.Truncate(time.Hour).Format(time.RFC3339)

	type key struct {
		Tag    string
		Bucket string
	}
	agg := make(map[key]*pagecache.PageViewRollup)
	total := 0

	for offset := 0; ; offset += rollupPageSize {
		views, err := w.store.QueryPageViews(ctx, pagecache.PageViewFilter{
			Since:  since,
			Until:  until,
			Offset: offset,
			Limit:  rollupPageSize,
		})
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "rollup query failed",
				slog.String("error", err.Error()),
			)
			return
		}
		for _, v := range views {
			bucket := v.CreatedAt.UTC().Truncate(time.Hour).Format(time.RFC3339)
			k := key{Tag: v.Tag, Bucket: bucket}
			r, ok := agg[k]
			if !ok {
				r = &pagecache.PageViewRollup{Tag: v.Tag, Period: rollupPeriod, Bucket: bucket}
				agg[k] = r
			}
			r.Views++
			if v.FromCache {
				r.CachedViews++
			}
		}
		total += len(views)
		if len(views) < rollupPageSize {
			break
		}
	}
	if len(agg) == 0 {
		return
	}

	rollups := make([]pagecache.PageViewRollup, 0, len(agg))
	for _, r := range agg {
		rollups = append(rollups, *r)
	}

	if err := w.store.UpsertRollups(ctx, rollups); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "rollup upsert failed",
			slog.String("error", err.Error()),
		)
		return
	}
	slog.Info("page view rollup completed", "rollups", len(rollups), "views", total)
}
