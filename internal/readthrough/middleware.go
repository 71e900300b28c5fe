// Package readthrough implements the read-through response cache: serve a
// stored envelope when policy allows, otherwise let the handler compute
// and send the response, then record what was sent for later replay.
package readthrough

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	pagecache "github.com/eugener/pagecache/internal"
	"github.com/eugener/pagecache/internal/envelope"
	"github.com/eugener/pagecache/internal/policy"
	"github.com/eugener/pagecache/internal/ratelimit"
	"github.com/eugener/pagecache/internal/telemetry"
)

// DefaultLifetime is how long a stored response stays servable.
const DefaultLifetime = 3600 * time.Second

// Cache outcomes reported through pagecache.SetCacheOutcome.
const (
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeBypass   = "bypass"
	OutcomeDisabled = "disabled"
	OutcomeShared   = "shared"
)

// Store outcomes for a computed response.
const (
	storeStored   = "stored"
	storeDisabled = "disabled"
	storeEmpty    = "empty"
	storePolicy   = "policy"
)

// ComputeFunc produces a response for d. It writes the response to w itself
// and returns what should be cached: envelope.Raw content, an *envelope.Envelope,
// or nil for nothing.
type ComputeFunc func(ctx context.Context, d *pagecache.Descriptor, w http.ResponseWriter) envelope.Result

// Store is the envelope cache. Implementations never fail: errors are misses.
type Store interface {
	Get(ctx context.Context, key string) *envelope.Envelope
	Set(ctx context.Context, key string, env *envelope.Envelope, ttl time.Duration)
}

// Analytics receives one event per served page carrying an analytics tag.
// Record must not block.
type Analytics interface {
	Record(d *pagecache.Descriptor, tag string, fromCache bool)
}

// Deps holds the collaborators of a Middleware.
type Deps struct {
	Policy    *policy.Policy // nil means default rules
	Store     Store
	Analytics Analytics          // optional
	Metrics   *telemetry.Metrics // optional
	Tracer    trace.Tracer       // optional, global provider when nil

	// UnknownCookieLog throttles the unknown-cookie warning per cookie name.
	// nil logs every occurrence.
	UnknownCookieLog *ratelimit.Throttle
}

// Options controls caching behavior. Start from DefaultOptions.
type Options struct {
	Enabled      bool
	Lifetime     time.Duration // zero means DefaultLifetime
	CacheControl bool          // add "Cache-Control: max-age=<Lifetime>, public" on replay
	SingleFlight bool          // concurrent misses on one URL share a computation
}

// DefaultOptions returns caching enabled with a one hour lifetime and
// Cache-Control on replay.
func DefaultOptions() Options {
	return Options{
		Enabled:      true,
		Lifetime:     DefaultLifetime,
		CacheControl: true,
	}
}

// Middleware is the read-through cache.
type Middleware struct {
	policy    *policy.Policy
	store     Store
	analytics Analytics
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	throttle  *ratelimit.Throttle
	opts      Options
	now       func() time.Time
	flights   singleflight.Group
}

// New creates a Middleware.
func New(deps Deps, opts Options) *Middleware {
	if deps.Policy == nil {
		deps.Policy = policy.New(nil)
	}
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Tracer("pagecache/readthrough")
	}
	if opts.Lifetime <= 0 {
		opts.Lifetime = DefaultLifetime
	}
	return &Middleware{
		policy:    deps.Policy,
		store:     deps.Store,
		analytics: deps.Analytics,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		throttle:  deps.UnknownCookieLog,
		opts:      opts,
		now:       time.Now,
	}
}

// Options returns the effective options.
func (m *Middleware) Options() Options { return m.opts }

// Handle serves d from the cache or computes it. It reports whether the
// cache answered the request; compute is not called in that case.
func (m *Middleware) Handle(ctx context.Context, d *pagecache.Descriptor, w http.ResponseWriter, compute ComputeFunc) bool {
	ctx, span := m.tracer.Start(ctx, "readthrough.Handle", trace.WithAttributes(
		attribute.String("http.request.method", d.Method),
		attribute.String("url.full", d.URL),
	))
	defer span.End()

	if !m.opts.Enabled {
		m.setOutcome(ctx, span, OutcomeDisabled)
		env := envelope.Normalize(compute(ctx, d, w), m.now())
		m.recordView(d, env, false)
		m.skipStore(ctx, d, storeDisabled)
		return false
	}

	dec := m.policy.Evaluate(d)
	m.observeUnknown(ctx, d, dec.UnknownCookies)

	if !dec.Cacheable {
		m.setOutcome(ctx, span, OutcomeBypass)
		if m.metrics != nil {
			m.metrics.CacheBypass.WithLabelValues(dec.Reason.String()).Inc()
		}
		slog.LogAttrs(ctx, slog.LevelDebug, "cache bypass",
			slog.String("url", d.URL),
			slog.String("method", d.Method),
			slog.String("reason", dec.Reason.String()),
			slog.String("cookie", dec.BlockingCookie),
			slog.String("request_id", d.RequestID),
		)
	} else {
		if env := m.store.Get(ctx, d.URL); env != nil {
			m.setOutcome(ctx, span, OutcomeHit)
			m.replay(ctx, d, w, env)
			return true
		}
		m.setOutcome(ctx, span, OutcomeMiss)
		if m.metrics != nil {
			m.metrics.CacheMisses.Inc()
		}
		if m.opts.SingleFlight {
			return m.handleShared(ctx, d, w, compute)
		}
	}

	m.computeAndStore(ctx, d, w, compute)
	return false
}

// computeAndStore runs compute, then stores its result when policy still
// allows caching. It returns the stored envelope, or nil.
func (m *Middleware) computeAndStore(ctx context.Context, d *pagecache.Descriptor, w http.ResponseWriter, compute ComputeFunc) *envelope.Envelope {
	env := envelope.Normalize(compute(ctx, d, w), m.now())
	m.recordView(d, env, false)

	switch {
	case !m.policy.IsCacheable(d):
		m.skipStore(ctx, d, storePolicy)
		return nil
	case env == nil:
		m.skipStore(ctx, d, storeEmpty)
		return nil
	}

	m.store.Set(ctx, d.URL, env, m.opts.Lifetime)
	if m.metrics != nil {
		m.metrics.CacheStores.WithLabelValues(storeStored).Inc()
	}
	slog.LogAttrs(ctx, slog.LevelDebug, "response cached",
		slog.String("url", d.URL),
		slog.Int("bytes", env.Len()),
		slog.Int("status", env.Status()),
		slog.Duration("ttl", m.opts.Lifetime),
	)
	return env
}

// handleShared lets one caller per URL compute while concurrent callers
// wait and replay its envelope. Waiters compute for themselves when the
// leader produced nothing cacheable or panicked; the panic surfaces only in
// the leader's request.
func (m *Middleware) handleShared(ctx context.Context, d *pagecache.Descriptor, w http.ResponseWriter, compute ComputeFunc) bool {
	leader := false
	var panicked any
	v, _, _ := m.flights.Do(d.URL, func() (res any, _ error) {
		leader = true
		defer func() {
			if p := recover(); p != nil {
				panicked = p
				res = (*envelope.Envelope)(nil)
			}
		}()
		return m.computeAndStore(ctx, d, w, compute), nil
	})
	if leader {
		if panicked != nil {
			panic(panicked)
		}
		return false
	}

	env, _ := v.(*envelope.Envelope)
	if env == nil {
		m.computeAndStore(ctx, d, w, compute)
		return false
	}
	pagecache.SetCacheOutcome(ctx, OutcomeShared)
	if m.metrics != nil {
		m.metrics.SingleFlightShared.Inc()
	}
	m.replay(ctx, d, w, env)
	return true
}

// CacheResponse stores raw content for d when caching is enabled and
// policy allows it. It is for handlers that write their own output and
// only want the store side of the cache. It reports whether content was stored.
func (m *Middleware) CacheResponse(ctx context.Context, d *pagecache.Descriptor, content []byte) bool {
	if !m.opts.Enabled || len(content) == 0 || !m.policy.IsCacheable(d) {
		slog.LogAttrs(ctx, slog.LevelDebug, "not caching content",
			slog.String("url", d.URL),
			slog.Int("bytes", len(content)),
		)
		return false
	}
	slog.LogAttrs(ctx, slog.LevelDebug, "caching content",
		slog.String("url", d.URL),
		slog.Int("bytes", len(content)),
	)
	m.store.Set(ctx, d.URL, envelope.Normalize(envelope.Raw(content), m.now()), m.opts.Lifetime)
	return true
}

func (m *Middleware) replay(ctx context.Context, d *pagecache.Descriptor, w http.ResponseWriter, env *envelope.Envelope) {
	if m.metrics != nil {
		m.metrics.CacheHits.Inc()
	}
	slog.LogAttrs(ctx, slog.LevelDebug, "responded with cached page",
		slog.String("url", d.URL),
		slog.Time("created_at", env.CreatedAt()),
		slog.String("request_id", d.RequestID),
	)
	err := env.Replay(w, envelope.ReplayOptions{
		CacheControl: m.opts.CacheControl,
		MaxAge:       m.opts.Lifetime,
	})
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelDebug, "replay write failed",
			slog.String("url", d.URL),
			slog.String("error", err.Error()),
		)
	}
	m.recordView(d, env, true)
}

func (m *Middleware) recordView(d *pagecache.Descriptor, env *envelope.Envelope, fromCache bool) {
	if m.analytics == nil || env == nil || env.AnalyticsTag() == "" {
		return
	}
	m.analytics.Record(d, env.AnalyticsTag(), fromCache)
}

func (m *Middleware) skipStore(ctx context.Context, d *pagecache.Descriptor, why string) {
	if m.metrics != nil {
		m.metrics.CacheStores.WithLabelValues(why).Inc()
	}
	level, msg := slog.LevelDebug, "caching disabled, response not stored"
	switch why {
	case storeEmpty:
		level, msg = slog.LevelInfo, "nothing to cache"
	case storePolicy:
		msg = "policy blocked caching, response not stored"
	}
	slog.LogAttrs(ctx, level, msg,
		slog.String("url", d.URL),
		slog.String("request_id", d.RequestID),
	)
}

func (m *Middleware) observeUnknown(ctx context.Context, d *pagecache.Descriptor, names []string) {
	if len(names) == 0 {
		return
	}
	if m.metrics != nil {
		m.metrics.UnknownCookies.Add(float64(len(names)))
	}
	for _, name := range names {
		var suppressed int64
		if m.throttle != nil {
			var ok bool
			if ok, suppressed = m.throttle.Allow(name); !ok {
				continue
			}
		}
		slog.LogAttrs(ctx, slog.LevelWarn, "unknown cookie",
			slog.String("cookie", name),
			slog.String("url", d.URL),
			slog.Int64("suppressed", suppressed),
		)
	}
}

func (m *Middleware) setOutcome(ctx context.Context, span trace.Span, outcome string) {
	pagecache.SetCacheOutcome(ctx, outcome)
	span.SetAttributes(attribute.String("cache.outcome", outcome))
}
