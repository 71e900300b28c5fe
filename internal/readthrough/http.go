package readthrough

import (
	"bytes"
	"context"
	"net/http"

	pagecache "github.com/eugener/pagecache/internal"
	"github.com/eugener/pagecache/internal/envelope"
)

// DefaultMaxBody caps how much of a response Capture records.
const DefaultMaxBody = 32 << 20

// Describe builds the request descriptor for r. The privilege oracle is
// consulted once; a nil oracle means nobody is privileged.
func Describe(r *http.Request, oracle pagecache.PrivilegeOracle) *pagecache.Descriptor {
	d := &pagecache.Descriptor{
		Method:    r.Method,
		URL:       RequestURL(r),
		RequestID: pagecache.RequestIDFromContext(r.Context()),
	}
	if cookies := r.Cookies(); len(cookies) > 0 {
		d.Cookies = make([]pagecache.Cookie, len(cookies))
		for i, c := range cookies {
			d.Cookies[i] = pagecache.Cookie{Name: c.Name, Value: c.Value}
		}
	}
	if oracle != nil {
		d.Privileged = oracle.Privileged(r.Context(), r)
	}
	return d
}

// RequestURL returns the full request URL used as the cache key:
// scheme://host/path?query, unnormalized.
func RequestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// Handler serves requests through the cache, computing misses with compute.
func (m *Middleware) Handler(oracle pagecache.PrivilegeOracle, compute ComputeFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Handle(r.Context(), Describe(r, oracle), w, compute)
	})
}

// Wrap serves requests through the cache, computing misses by running next
// and recording its output with Capture.
func (m *Middleware) Wrap(oracle pagecache.PrivilegeOracle, next http.Handler, opts CaptureOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Handle(r.Context(), Describe(r, oracle), w, Capture(next, r, opts))
	})
}

// HeadHandler answers HEAD requests from the cache only. A cached entry is
// replayed; otherwise the response is an empty 200 and nothing is computed.
func (m *Middleware) HeadHandler(oracle pagecache.PrivilegeOracle) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		d := Describe(r, oracle)
		if m.opts.Enabled && m.policy.IsCacheable(d) {
			if env := m.store.Get(ctx, d.URL); env != nil {
				pagecache.SetCacheOutcome(ctx, OutcomeHit)
				m.replay(ctx, d, w, env)
				return
			}
		}
		pagecache.SetCacheOutcome(ctx, OutcomeMiss)
		w.WriteHeader(http.StatusOK)
	})
}

// CaptureOptions configures Capture.
type CaptureOptions struct {
	// TagHeader names a response header carrying the analytics tag. It is
	// removed before the response is sent.
	TagHeader string
	// Tag derives the analytics tag when TagHeader yields none. Optional.
	Tag func(h http.Header, body []byte) string
	// MaxBody caps the recorded body; larger responses are sent but not
	// cached. Zero means DefaultMaxBody.
	MaxBody int64
}

// Capture adapts a plain handler to a ComputeFunc. The handler writes to
// the client as usual while its output is recorded. Responses that set
// cookies, fail with a 5xx status, have no body or exceed MaxBody yield nil.
func Capture(next http.Handler, r *http.Request, opts CaptureOptions) ComputeFunc {
	if opts.MaxBody <= 0 {
		opts.MaxBody = DefaultMaxBody
	}
	return func(ctx context.Context, _ *pagecache.Descriptor, w http.ResponseWriter) envelope.Result {
		rec := &recorder{w: w, max: opts.MaxBody, tagHeader: opts.TagHeader}
		next.ServeHTTP(rec, r.WithContext(ctx))
		if rec.status == 0 {
			// net/http sends headers with an implicit 200 when the handler
			// returns without writing.
			rec.WriteHeader(http.StatusOK)
		}

		if rec.status >= 500 || rec.overflow || rec.body.Len() == 0 {
			return nil
		}
		if len(rec.header.Values("Set-Cookie")) > 0 {
			return nil
		}
		rec.header.Del("Date")

		body := rec.body.Bytes()
		tag := rec.tag
		if tag == "" && opts.Tag != nil {
			tag = opts.Tag(rec.header, body)
		}
		return envelope.New(envelope.Options{
			Headers:      envelope.FromHeader(rec.header),
			Body:         body,
			Status:       rec.status,
			AnalyticsTag: tag,
		})
	}
}

// recorder tees a response to the client while keeping a copy. The
// wrapped handler gets its own header map so headers set by outer
// middleware never end up in the envelope.
type recorder struct {
	w         http.ResponseWriter
	hdr       http.Header
	status    int
	header    http.Header // snapshot taken at WriteHeader
	body      bytes.Buffer
	max       int64
	overflow  bool
	tagHeader string
	tag       string
}

func (r *recorder) Header() http.Header {
	if r.hdr == nil {
		r.hdr = make(http.Header)
	}
	return r.hdr
}

func (r *recorder) WriteHeader(code int) {
	if r.status != 0 {
		return
	}
	h := r.Header()
	// Informational responses precede the real one.
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		r.copyHeader(h)
		r.w.WriteHeader(code)
		return
	}
	if r.tagHeader != "" {
		r.tag = h.Get(r.tagHeader)
		h.Del(r.tagHeader)
	}
	r.status = code
	r.header = h.Clone()
	r.copyHeader(h)
	r.w.WriteHeader(code)
}

func (r *recorder) copyHeader(h http.Header) {
	dst := r.w.Header()
	for k, vv := range h {
		dst[k] = append([]string(nil), vv...)
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.WriteHeader(http.StatusOK)
	}
	if !r.overflow {
		if int64(r.body.Len()+len(p)) > r.max {
			r.overflow = true
			r.body.Reset()
		} else {
			r.body.Write(p)
		}
	}
	return r.w.Write(p)
}

func (r *recorder) Flush() {
	if f, ok := r.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *recorder) Unwrap() http.ResponseWriter { return r.w }
