package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	pagecache "github.com/eugener/pagecache/internal"
	"github.com/eugener/pagecache/internal/telemetry"
)

const (
	pageViewChanSize   = 1000
	pageViewBatchSize  = 100
	pageViewFlushEvery = 5 * time.Second
	pageViewDrainTime  = 30 * time.Second
)

// PageViewStore is the persistence interface consumed by PageViewRecorder.
type PageViewStore interface {
	InsertPageViews(ctx context.Context, views []pagecache.PageView) error
}

// PageViewRecorder buffers page views and batch-flushes them to the store.
// Views are dropped if the channel is full.
type PageViewRecorder struct {
	ch      chan pagecache.PageView
	store   PageViewStore
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewPageViewRecorder creates a PageViewRecorder backed by store. metrics
// may be nil.
func NewPageViewRecorder(store PageViewStore, metrics *telemetry.Metrics) *PageViewRecorder {
	return &PageViewRecorder{
		ch:      make(chan pagecache.PageView, pageViewChanSize),
		store:   store,
		metrics: metrics,
		now:     time.Now,
	}
}

// Name returns the worker identifier.
func (p *PageViewRecorder) Name() string { return "pageview_recorder" }

// Record enqueues a page view for the response described by d. It never
// blocks; the view is dropped when the channel is full.
func (p *PageViewRecorder) Record(d *pagecache.Descriptor, tag string, fromCache bool) {
	v := pagecache.PageView{
		URL:       d.URL,
		Tag:       tag,
		FromCache: fromCache,
		RequestID: d.RequestID,
		CreatedAt: p.now().UTC(),
	}
	select {
	case p.ch <- v:
		if p.metrics != nil {
			p.metrics.PageViewQueueLength.Set(float64(len(p.ch)))
		}
	default:
		if p.metrics != nil {
			p.metrics.PageViewsDropped.Inc()
		}
		slog.Warn("page view dropped, channel full", "tag", tag)
	}
}

// Run processes views until ctx is cancelled, then drains remaining views.
func (p *PageViewRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(pageViewFlushEvery)
	defer ticker.Stop()

	buf := make([]pagecache.PageView, 0, pageViewBatchSize)

	for {
		select {
		case v := <-p.ch:
			buf = append(buf, v)
			if len(buf) >= pageViewBatchSize {
				p.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				p.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			p.drain(buf)
			return nil
		}
	}
}

func (p *PageViewRecorder) drain(buf []pagecache.PageView) {
	ctx, cancel := context.WithTimeout(context.Background(), pageViewDrainTime)
	defer cancel()

	for {
		select {
		case v := <-p.ch:
			buf = append(buf, v)
			if len(buf) >= pageViewBatchSize {
				p.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				p.flush(ctx, buf)
			}
			return
		}
	}
}

func (p *PageViewRecorder) flush(ctx context.Context, buf []pagecache.PageView) {
	batch := make([]pagecache.PageView, len(buf))
	copy(batch, buf)

	// IDs are assigned off the request path.
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	if p.metrics != nil {
		p.metrics.PageViewQueueLength.Set(float64(len(p.ch)))
	}
	if err := p.store.InsertPageViews(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "page view flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}
