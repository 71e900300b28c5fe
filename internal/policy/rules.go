// Package policy decides whether a response may be served from or stored in
// the cache for a given request.
package policy

import (
	"fmt"
	"sort"
)

// Rules is the cookie rule table. It is built once and never modified.
//
// Personalization cookies block caching unless their value is one of the
// declared safe values. Generic cookies are known to have no effect on the
// representation. A cookie name may appear in at most one of the two tables.
type Rules struct {
	personalization map[string]map[string]struct{}
	generic         map[string]struct{}
}

// NewRules builds an immutable rule table from the given mappings.
// The inputs are copied; later changes to them have no effect.
func NewRules(personalization map[string][]string, generic []string) (*Rules, error) {
	r := &Rules{
		personalization: make(map[string]map[string]struct{}, len(personalization)),
		generic:         make(map[string]struct{}, len(generic)),
	}
	for name, safe := range personalization {
		if name == "" {
			return nil, fmt.Errorf("policy: empty personalization cookie name")
		}
		set := make(map[string]struct{}, len(safe))
		for _, v := range safe {
			set[v] = struct{}{}
		}
		r.personalization[name] = set
	}
	for _, name := range generic {
		if name == "" {
			return nil, fmt.Errorf("policy: empty generic cookie name")
		}
		if _, dup := r.personalization[name]; dup {
			return nil, fmt.Errorf("policy: cookie %q is listed as both personalization and generic", name)
		}
		r.generic[name] = struct{}{}
	}
	return r, nil
}

// DefaultRules returns the built-in rule table: OverrideDeviceStyle is a
// personalization cookie whose only safe value is "no".
func DefaultRules() *Rules {
	r, _ := NewRules(map[string][]string{
		"OverrideDeviceStyle": {"no"},
	}, nil)
	return r
}

// IsPersonalization reports whether name is a personalization cookie.
func (r *Rules) IsPersonalization(name string) bool {
	_, ok := r.personalization[name]
	return ok
}

// IsGeneric reports whether name is a generic cookie.
func (r *Rules) IsGeneric(name string) bool {
	_, ok := r.generic[name]
	return ok
}

// safe reports whether value is a declared safe value for the
// personalization cookie name.
func (r *Rules) safe(name, value string) bool {
	_, ok := r.personalization[name][value]
	return ok
}

// PersonalizationCookies returns the personalization cookie names, sorted.
func (r *Rules) PersonalizationCookies() []string {
	out := make([]string, 0, len(r.personalization))
	for name := range r.personalization {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
