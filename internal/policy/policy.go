package policy

import (
	"net/http"

	pagecache "github.com/eugener/pagecache/internal"
)

// Reason explains a cacheability decision.
type Reason int

const (
	// ReasonOK means nothing disqualified the request.
	ReasonOK Reason = iota
	// ReasonMethod means the method is not GET or HEAD.
	ReasonMethod
	// ReasonPrivileged means the caller is an administrator.
	ReasonPrivileged
	// ReasonPersonalized means a personalization cookie carried an unsafe value.
	ReasonPersonalized
)

// String returns a short, log-friendly reason name.
func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonMethod:
		return "method"
	case ReasonPrivileged:
		return "privileged"
	case ReasonPersonalized:
		return "personalized"
	default:
		return "unknown"
	}
}

// Decision is the outcome of evaluating a descriptor.
type Decision struct {
	Cacheable bool
	Reason    Reason
	// BlockingCookie names the personalization cookie that blocked caching.
	BlockingCookie string
	// UnknownCookies lists cookies found in neither rule table, in request
	// order. They never affect Cacheable.
	UnknownCookies []string
}

// Policy evaluates descriptors against a fixed rule table.
// It holds no mutable state and is safe for concurrent use.
type Policy struct {
	rules *Rules
}

// New returns a Policy over rules. A nil rules uses DefaultRules.
func New(rules *Rules) *Policy {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Policy{rules: rules}
}

// Rules returns the rule table the policy evaluates against.
func (p *Policy) Rules() *Rules { return p.rules }

// Evaluate decides whether d may be served from or stored in the cache.
// It has no side effects, so repeated calls for one descriptor agree.
func (p *Policy) Evaluate(d *pagecache.Descriptor) Decision {
	if d.Method != http.MethodGet && d.Method != http.MethodHead {
		return Decision{Reason: ReasonMethod}
	}
	if d.Privileged {
		return Decision{Reason: ReasonPrivileged}
	}

	var unknown []string
	for _, c := range d.Cookies {
		switch {
		case p.rules.IsPersonalization(c.Name):
			if !p.rules.safe(c.Name, c.Value) {
				return Decision{
					Reason:         ReasonPersonalized,
					BlockingCookie: c.Name,
					UnknownCookies: unknown,
				}
			}
		case !p.rules.IsGeneric(c.Name):
			unknown = append(unknown, c.Name)
		}
	}
	return Decision{Cacheable: true, Reason: ReasonOK, UnknownCookies: unknown}
}

// IsCacheable reports whether d may be served from or stored in the cache.
func (p *Policy) IsCacheable(d *pagecache.Descriptor) bool {
	return p.Evaluate(d).Cacheable
}
