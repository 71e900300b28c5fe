package envelope

import "time"

// Result is what a compute function hands back to the cache: either Raw
// content or a fully specified *Envelope. A nil Result, empty Raw or nil
// *Envelope all mean "nothing to cache".
type Result interface {
	result()
}

// Raw is bare body content with no headers and the default status.
type Raw []byte

func (Raw) result()       {}
func (*Envelope) result() {}

// Normalize converts r into the canonical envelope form, stamping raw
// content with now. It returns nil when there is nothing to cache.
func Normalize(r Result, now time.Time) *Envelope {
	switch v := r.(type) {
	case Raw:
		if len(v) == 0 {
			return nil
		}
		return New(Options{Body: v, CreatedAt: now})
	case *Envelope:
		return v
	default:
		return nil
	}
}
