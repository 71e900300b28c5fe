package policy

import (
	"net/http"
	"slices"
	"testing"

	pagecache "github.com/eugener/pagecache/internal"
)

func testRules(t *testing.T) *Rules {
	t.Helper()
	r, err := NewRules(map[string][]string{
		"OverrideDeviceStyle": {"no"},
		"Theme":               {"light", "dark"},
	}, []string{"_ga", "consent"})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestIsCacheable(t *testing.T) {
	t.Parallel()
	p := New(testRules(t))

	tests := []struct {
		name string
		d    pagecache.Descriptor
		want bool
	}{
		{
			name: "plain get",
			d:    pagecache.Descriptor{Method: http.MethodGet, URL: "/alpha"},
			want: true,
		},
		{
			name: "plain head",
			d:    pagecache.Descriptor{Method: http.MethodHead, URL: "/alpha"},
			want: true,
		},
		{
			name: "post",
			d:    pagecache.Descriptor{Method: http.MethodPost, URL: "/alpha"},
			want: false,
		},
		{
			name: "put",
			d:    pagecache.Descriptor{Method: http.MethodPut, URL: "/alpha"},
			want: false,
		},
		{
			name: "privileged get",
			d:    pagecache.Descriptor{Method: http.MethodGet, URL: "/alpha", Privileged: true},
			want: false,
		},
		{
			name: "privileged with only safe cookies",
			d: pagecache.Descriptor{Method: http.MethodGet, URL: "/alpha", Privileged: true,
				Cookies: []pagecache.Cookie{{Name: "OverrideDeviceStyle", Value: "no"}}},
			want: false,
		},
		{
			name: "unsafe personalization value",
			d: pagecache.Descriptor{Method: http.MethodGet, URL: "/beta",
				Cookies: []pagecache.Cookie{{Name: "OverrideDeviceStyle", Value: "yes"}}},
			want: false,
		},
		{
			name: "safe personalization value",
			d: pagecache.Descriptor{Method: http.MethodGet, URL: "/beta",
				Cookies: []pagecache.Cookie{{Name: "OverrideDeviceStyle", Value: "no"}}},
			want: true,
		},
		{
			name: "one of several safe values",
			d: pagecache.Descriptor{Method: http.MethodGet, URL: "/beta",
				Cookies: []pagecache.Cookie{{Name: "Theme", Value: "dark"}}},
			want: true,
		},
		{
			name: "generic and unknown cookies do not block",
			d: pagecache.Descriptor{Method: http.MethodGet, URL: "/beta",
				Cookies: []pagecache.Cookie{{Name: "_ga", Value: "x"}, {Name: "mystery", Value: "1"}}},
			want: true,
		},
		{
			name: "unsafe cookie after safe ones",
			d: pagecache.Descriptor{Method: http.MethodGet, URL: "/beta",
				Cookies: []pagecache.Cookie{{Name: "Theme", Value: "light"}, {Name: "OverrideDeviceStyle", Value: "tablet"}}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := p.IsCacheable(&tt.d); got != tt.want {
				t.Errorf("IsCacheable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_Reasons(t *testing.T) {
	t.Parallel()
	p := New(testRules(t))

	d := &pagecache.Descriptor{Method: http.MethodDelete}
	if got := p.Evaluate(d).Reason; got != ReasonMethod {
		t.Errorf("reason = %v, want %v", got, ReasonMethod)
	}

	d = &pagecache.Descriptor{Method: http.MethodGet, Privileged: true}
	if got := p.Evaluate(d).Reason; got != ReasonPrivileged {
		t.Errorf("reason = %v, want %v", got, ReasonPrivileged)
	}

	d = &pagecache.Descriptor{Method: http.MethodGet, Cookies: []pagecache.Cookie{
		{Name: "Theme", Value: "neon"},
		{Name: "OverrideDeviceStyle", Value: "yes"},
	}}
	dec := p.Evaluate(d)
	if dec.Reason != ReasonPersonalized {
		t.Errorf("reason = %v, want %v", dec.Reason, ReasonPersonalized)
	}
	if dec.BlockingCookie != "Theme" {
		t.Errorf("blocking cookie = %q, want first violator %q", dec.BlockingCookie, "Theme")
	}
}

func TestEvaluate_UnknownCookies(t *testing.T) {
	t.Parallel()
	p := New(testRules(t))

	d := &pagecache.Descriptor{Method: http.MethodGet, Cookies: []pagecache.Cookie{
		{Name: "b_unknown", Value: "1"},
		{Name: "consent", Value: "yes"},
		{Name: "a_unknown", Value: "2"},
		{Name: "OverrideDeviceStyle", Value: "no"},
	}}
	dec := p.Evaluate(d)
	if !dec.Cacheable {
		t.Fatal("unknown cookies must not block caching")
	}
	want := []string{"b_unknown", "a_unknown"}
	if !slices.Equal(dec.UnknownCookies, want) {
		t.Errorf("unknown = %v, want %v", dec.UnknownCookies, want)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	t.Parallel()
	p := New(nil)
	d := &pagecache.Descriptor{Method: http.MethodGet, URL: "/x", Cookies: []pagecache.Cookie{
		{Name: "sid", Value: "abc"},
	}}
	first := p.Evaluate(d)
	for range 10 {
		again := p.Evaluate(d)
		if again.Cacheable != first.Cacheable || again.Reason != first.Reason {
			t.Fatalf("evaluation changed: %+v vs %+v", first, again)
		}
	}
}

func TestNewRules_Conflict(t *testing.T) {
	t.Parallel()
	_, err := NewRules(map[string][]string{"Theme": {"light"}}, []string{"Theme"})
	if err == nil {
		t.Fatal("expected error for cookie in both tables")
	}
}

func TestNewRules_CopiesInput(t *testing.T) {
	t.Parallel()
	safe := []string{"no"}
	in := map[string][]string{"OverrideDeviceStyle": safe}
	r, err := NewRules(in, nil)
	if err != nil {
		t.Fatal(err)
	}
	safe[0] = "yes"
	in["Extra"] = []string{"1"}

	p := New(r)
	d := &pagecache.Descriptor{Method: http.MethodGet, Cookies: []pagecache.Cookie{{Name: "OverrideDeviceStyle", Value: "yes"}}}
	if p.IsCacheable(d) {
		t.Error("mutating input after NewRules must not change the rules")
	}
	if r.IsPersonalization("Extra") {
		t.Error("rules picked up a cookie added after construction")
	}
}

func TestDefaultRules(t *testing.T) {
	t.Parallel()
	r := DefaultRules()
	if !r.IsPersonalization("OverrideDeviceStyle") {
		t.Error("OverrideDeviceStyle should be a personalization cookie")
	}
	if got := r.PersonalizationCookies(); !slices.Equal(got, []string{"OverrideDeviceStyle"}) {
		t.Errorf("personalization cookies = %v", got)
	}
}
