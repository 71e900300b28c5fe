package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/eugener/pagecache/internal/telemetry"
)

func newMetricsEnv(t *testing.T) (*testEnv, *telemetry.Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	env := newTestEnv(t, func(d *Deps) {
		d.Metrics = metrics
		d.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	})
	return env, metrics
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	env, _ := newMetricsEnv(t)

	// Hit a page first to generate metrics.
	if rec := env.do(http.MethodGet, "/page"); rec.Code != http.StatusOK {
		t.Fatalf("page: status = %d", rec.Code)
	}

	rec := env.do(http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, name := range []string{"pagecache_requests_total", "pagecache_request_duration_seconds"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics should contain %s", name)
		}
	}
}

func TestMetricsMiddleware_CacheOutcome(t *testing.T) {
	t.Parallel()
	env, m := newMetricsEnv(t)

	env.do(http.MethodGet, "/page")
	env.do(http.MethodGet, "/page")
	env.do(http.MethodPost, "/page")
	for range 3 {
		env.do(http.MethodGet, "/healthz")
	}

	tests := []struct {
		method, path, status, cache string
		want                        float64
	}{
		{"GET", "/*", "200", "miss", 1},
		{"GET", "/*", "200", "hit", 1},
		{"POST", "/*", "200", "bypass", 1},
		{"GET", "/healthz", "200", "none", 3},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(tt.method, tt.path, tt.status, tt.cache))
		if got != tt.want {
			t.Errorf("requests_total{%s %s %s %s} = %v, want %v", tt.method, tt.path, tt.status, tt.cache, got, tt.want)
		}
	}
	if got := testutil.ToFloat64(m.ActiveRequests); got != 0 {
		t.Errorf("active requests = %v, want 0", got)
	}
}
