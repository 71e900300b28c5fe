package envelope

import (
	"net/http"
	"strconv"
	"time"
)

// CachedFromHeader is added to every replayed response and carries the
// envelope creation time.
const CachedFromHeader = "X-Cached-From"

// ReplayOptions controls the headers Replay adds on top of the stored ones.
type ReplayOptions struct {
	// CacheControl adds "Cache-Control: max-age=N, public" so downstream
	// caches learn the freshness window.
	CacheControl bool
	MaxAge       time.Duration
}

// Replay writes the envelope to w: stored headers in order, the synthetic
// CachedFromHeader, the optional Cache-Control directive, the status when it
// is not 200, then the body. The envelope is not modified.
func (e *Envelope) Replay(w http.ResponseWriter, opts ReplayOptions) error {
	h := w.Header()
	for _, f := range e.headers {
		h.Add(f.Name, f.Value)
	}
	h.Set(CachedFromHeader, e.createdAt.UTC().Format(time.RFC3339Nano))
	if opts.CacheControl {
		h.Set("Cache-Control", "max-age="+strconv.Itoa(int(opts.MaxAge/time.Second))+", public")
	}
	if e.status != http.StatusOK {
		w.WriteHeader(e.status)
	}
	_, err := w.Write(e.body)
	return err
}
