// Package origin forwards requests to the upstream site whose pages are
// cached. It is the default compute function behind the read-through
// middleware.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eugener/pagecache/internal/telemetry"
)

// DefaultMaxBody caps the response body copied from the origin.
const DefaultMaxBody = 32 << 20

// hopByHop headers that must not be forwarded between client and origin.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// Config configures an Origin.
type Config struct {
	BaseURL string
	Client  *http.Client
	Metrics *telemetry.Metrics
	MaxBody int64
}

// Origin is an http.Handler that forwards each request to BaseURL and
// copies the response back.
type Origin struct {
	base    *url.URL
	client  *http.Client
	metrics *telemetry.Metrics
	maxBody int64
}

// New validates cfg and returns an Origin.
func New(cfg Config) (*Origin, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("origin: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("origin: base url %q must be absolute http(s)", cfg.BaseURL)
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	return &Origin{base: u, client: client, metrics: cfg.Metrics, maxBody: maxBody}, nil
}

// BaseURL returns the configured origin URL.
func (o *Origin) BaseURL() string { return o.base.String() }

func (o *Origin) target(r *http.Request) string {
	u := *o.base
	u.Path = strings.TrimSuffix(o.base.Path, "/") + r.URL.Path
	u.RawPath = ""
	if r.URL.RawPath != "" {
		u.RawPath = strings.TrimSuffix(o.base.EscapedPath(), "/") + r.URL.RawPath
	}
	u.RawQuery = r.URL.RawQuery
	return u.String()
}

func (o *Origin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, o.target(r), r.Body)
	if err != nil {
		o.fail(ctx, w, "request", err)
		return
	}
	outReq.ContentLength = r.ContentLength
	copyRequestHeaders(outReq.Header, r.Header)
	setForwarded(outReq, r)

	resp, err := o.client.Do(outReq)
	if err != nil {
		o.fail(ctx, w, errorKind(err), err)
		return
	}
	defer resp.Body.Close()

	if o.metrics != nil {
		o.metrics.OriginDuration.WithLabelValues(strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
	}

	copyResponseHeaders(w.Header(), resp.Header)
	if resp.ContentLength > o.maxBody {
		w.Header().Del("Content-Length")
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, io.LimitReader(resp.Body, o.maxBody)); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "origin response copy failed",
			slog.String("url", outReq.URL.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Origin) fail(ctx context.Context, w http.ResponseWriter, kind string, err error) {
	if o.metrics != nil {
		o.metrics.OriginErrors.WithLabelValues(kind).Inc()
	}
	level := slog.LevelError
	if kind == "canceled" {
		level = slog.LevelDebug
	}
	slog.LogAttrs(ctx, level, "origin request failed",
		slog.String("origin", o.base.Host),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
	http.Error(w, "origin request failed", http.StatusBadGateway)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "timeout"
	}
	return "transport"
}

func copyRequestHeaders(dst, src http.Header) {
	connHeaders := connectionTokens(src)
	for key, vals := range src {
		if _, hop := hopByHopHeaders[key]; hop {
			continue
		}
		if _, listed := connHeaders[key]; listed {
			continue
		}
		switch key {
		// Client credentials are for this service; outbound auth lives in
		// the transport chain. Accept-Encoding is left to the transport so
		// cached bodies are always decoded.
		case "Authorization", "Accept-Encoding":
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
}

func copyResponseHeaders(dst, src http.Header) {
	connHeaders := connectionTokens(src)
	for key, vals := range src {
		if _, hop := hopByHopHeaders[key]; hop {
			continue
		}
		if _, listed := connHeaders[key]; listed {
			continue
		}
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
}

// connectionTokens returns the header names listed in Connection.
func connectionTokens(h http.Header) map[string]struct{} {
	var out map[string]struct{}
	for _, v := range h.Values("Connection") {
		for tok := range strings.SplitSeq(v, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			if out == nil {
				out = make(map[string]struct{})
			}
			out[http.CanonicalHeaderKey(tok)] = struct{}{}
		}
	}
	return out
}

func setForwarded(out, in *http.Request) {
	if ip, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := in.Header.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		out.Header.Set("X-Forwarded-For", ip)
	}
	out.Header.Set("X-Forwarded-Host", in.Host)
	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}
	out.Header.Set("X-Forwarded-Proto", proto)
}
