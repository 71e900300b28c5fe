// Package telemetry provides observability primitives for pagecache.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for pagecache.
type Metrics struct {
	RequestsTotal           *prometheus.CounterVec
	RequestDuration         *prometheus.HistogramVec
	ActiveRequests          prometheus.Gauge
	OriginDuration          *prometheus.HistogramVec
	OriginErrors            *prometheus.CounterVec
	CacheHits               prometheus.Counter
	CacheMisses             prometheus.Counter
	CacheBypass             *prometheus.CounterVec
	CacheStores             *prometheus.CounterVec
	CacheBackendErrors      *prometheus.CounterVec
	CacheBreakerState       *prometheus.GaugeVec
	CacheBreakerTransitions *prometheus.CounterVec
	SingleFlightShared      prometheus.Counter
	UnknownCookies          prometheus.Counter
	PageViewQueueLength     prometheus.Gauge
	PageViewsDropped        prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagecache",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status", "cache"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "pagecache",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "cache"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pagecache",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		OriginDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "pagecache",
			Name:                            "origin_duration_seconds",
			Help:                            "Origin call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"status"}),

		OriginErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagecache",
			Name:      "origin_errors_total",
			Help:      "Total origin transport errors.",
		}, []string{"kind"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagecache",
			Name:      "cache_hits_total",
			Help:      "Total responses replayed from the cache.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagecache",
			Name:      "cache_misses_total",
			Help:      "Total cacheable requests not found in the cache.",
		}),

		CacheBypass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagecache",
			Name:      "cache_bypass_total",
			Help:      "Requests that skipped the cache lookup, by policy reason.",
		}, []string{"reason"}),

		CacheStores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagecache",
			Name:      "cache_stores_total",
			Help:      "Computed responses by store outcome (stored, disabled, empty, policy).",
		}, []string{"outcome"}),

		CacheBackendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagecache",
			Name:      "cache_backend_errors_total",
			Help:      "Cache backend failures degraded to a miss or no-op.",
		}, []string{"backend", "op", "kind"}),

		CacheBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pagecache",
			Name:      "cache_breaker_state",
			Help:      "Cache backend circuit breaker state (0 closed, 1 open, 2 half-open).",
		}, []string{"backend"}),

		CacheBreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pagecache",
			Name:      "cache_breaker_transitions_total",
			Help:      "Cache backend circuit breaker transitions, by target state.",
		}, []string{"backend", "state"}),

		SingleFlightShared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagecache",
			Name:      "singleflight_shared_total",
			Help:      "Requests served from another request's in-flight computation.",
		}),

		UnknownCookies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagecache",
			Name:      "unknown_cookies_total",
			Help:      "Cookies seen that are in neither the personalization nor the generic table.",
		}),

		PageViewQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pagecache",
			Name:      "pageview_queue_length",
			Help:      "Current number of queued page view records.",
		}),

		PageViewsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pagecache",
			Name:      "pageviews_dropped_total",
			Help:      "Page view records dropped because the queue was full.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.OriginDuration,
		m.OriginErrors,
		m.CacheHits,
		m.CacheMisses,
		m.CacheBypass,
		m.CacheStores,
		m.CacheBackendErrors,
		m.CacheBreakerState,
		m.CacheBreakerTransitions,
		m.SingleFlightShared,
		m.UnknownCookies,
		m.PageViewQueueLength,
		m.PageViewsDropped,
	)

	return m
}
