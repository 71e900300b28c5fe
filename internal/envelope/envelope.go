// Package envelope provides the immutable record of a computed HTTP response
// that the read-through cache stores and replays.
package envelope

import (
	"bytes"
	"net/http"
	"slices"
	"time"
)

// Header is a single response header field. Envelopes keep headers as an
// ordered list so duplicates and their order survive a replay.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Envelope is a captured response. All fields are unexported and no method
// mutates them, so one envelope may be replayed concurrently.
type Envelope struct {
	headers      []Header
	body         []byte
	status       int
	createdAt    time.Time
	analyticsTag string
}

// Options configures New.
type Options struct {
	Headers      []Header
	Body         []byte
	Status       int       // 0 means 200
	AnalyticsTag string    // optional
	CreatedAt    time.Time // zero means now
}

// New builds an envelope. Headers and body are copied.
func New(opts Options) *Envelope {
	status := opts.Status
	if status == 0 {
		status = http.StatusOK
	}
	created := opts.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return &Envelope{
		headers:      slices.Clone(opts.Headers),
		body:         bytes.Clone(opts.Body),
		status:       status,
		createdAt:    created,
		analyticsTag: opts.AnalyticsTag,
	}
}

// FromHeader flattens an http.Header into ordered header fields.
// Keys are sorted so the result is deterministic; values keep their order.
func FromHeader(h http.Header) []Header {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]Header, 0, len(keys))
	for _, k := range keys {
		for _, v := range h[k] {
			out = append(out, Header{Name: k, Value: v})
		}
	}
	return out
}

// Headers returns a copy of the stored header fields.
func (e *Envelope) Headers() []Header { return slices.Clone(e.headers) }

// Body returns a copy of the stored body.
func (e *Envelope) Body() []byte { return bytes.Clone(e.body) }

// Len returns the body length in bytes.
func (e *Envelope) Len() int { return len(e.body) }

// Status returns the stored status code.
func (e *Envelope) Status() int { return e.status }

// CreatedAt returns when the envelope was created.
func (e *Envelope) CreatedAt() time.Time { return e.createdAt }

// AnalyticsTag returns the analytics tag, or "" when the page is untagged.
func (e *Envelope) AnalyticsTag() string { return e.analyticsTag }
