package envelope

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	before := time.Now()
	e := New(Options{Body: []byte("hi")})
	if e.Status() != http.StatusOK {
		t.Errorf("status = %d, want 200", e.Status())
	}
	if e.CreatedAt().Before(before) {
		t.Error("created_at should default to now")
	}
	if len(e.Headers()) != 0 {
		t.Errorf("headers = %v, want none", e.Headers())
	}
}

func TestNew_CopiesInputs(t *testing.T) {
	t.Parallel()
	body := []byte("hello")
	hdrs := []Header{{Name: "X-A", Value: "1"}}
	e := New(Options{Body: body, Headers: hdrs})

	body[0] = 'J'
	hdrs[0].Value = "2"

	if string(e.Body()) != "hello" {
		t.Errorf("body = %q, want %q", e.Body(), "hello")
	}
	if e.Headers()[0].Value != "1" {
		t.Errorf("header = %q, want %q", e.Headers()[0].Value, "1")
	}

	// Accessors hand out copies too.
	e.Body()[0] = 'X'
	e.Headers()[0].Value = "3"
	if string(e.Body()) != "hello" || e.Headers()[0].Value != "1" {
		t.Error("accessor copies must not alias envelope state")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name    string
		in      Result
		wantNil bool
	}{
		{name: "nil result", in: nil, wantNil: true},
		{name: "empty raw", in: Raw(nil), wantNil: true},
		{name: "nil envelope", in: (*Envelope)(nil), wantNil: true},
		{name: "raw content", in: Raw("hello")},
		{name: "envelope", in: New(Options{Body: []byte("x"), Status: http.StatusNotFound})},
		{name: "empty-body envelope", in: New(Options{Status: http.StatusMovedPermanently})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Normalize(tt.in, now)
			if (got == nil) != tt.wantNil {
				t.Fatalf("Normalize() nil = %v, want %v", got == nil, tt.wantNil)
			}
		})
	}
}

func TestNormalize_RawRoundTrip(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := Normalize(Raw("hello"), now)

	data, err := Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Body()) != "hello" {
		t.Errorf("body = %q, want %q", got.Body(), "hello")
	}
	if got.Status() != http.StatusOK {
		t.Errorf("status = %d, want 200", got.Status())
	}
	if len(got.Headers()) != 0 {
		t.Errorf("headers = %v, want empty", got.Headers())
	}
	if !got.CreatedAt().Equal(now) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt(), now)
	}
}

func TestCodec_PreservesFields(t *testing.T) {
	t.Parallel()
	e := New(Options{
		Headers: []Header{
			{Name: "Content-Type", Value: "text/html"},
			{Name: "Link", Value: "</a.css>; rel=preload"},
			{Name: "Link", Value: "</b.js>; rel=preload"},
		},
		Body:         []byte{0, 1, 2, 0xff},
		Status:       http.StatusGone,
		AnalyticsTag: "home",
	})
	data, err := Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got.Headers(), e.Headers()) {
		t.Errorf("headers = %v, want %v", got.Headers(), e.Headers())
	}
	if !bytes.Equal(got.Body(), e.Body()) {
		t.Errorf("body = %v, want %v", got.Body(), e.Body())
	}
	if got.Status() != http.StatusGone {
		t.Errorf("status = %d, want %d", got.Status(), http.StatusGone)
	}
	if got.AnalyticsTag() != "home" {
		t.Errorf("tag = %q, want %q", got.AnalyticsTag(), "home")
	}
}

func TestUnmarshal_Rejects(t *testing.T) {
	t.Parallel()
	if _, err := Unmarshal([]byte("not json")); err == nil {
		t.Error("expected error for garbage input")
	}
	if _, err := Unmarshal([]byte(`{"v":99,"s":200}`)); err == nil {
		t.Error("expected error for unknown version")
	}
}

func TestReplay(t *testing.T) {
	t.Parallel()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := New(Options{
		Headers: []Header{
			{Name: "Content-Type", Value: "text/plain"},
			{Name: "Link", Value: "<a>"},
			{Name: "Link", Value: "<b>"},
		},
		Body:      []byte("cached body"),
		CreatedAt: created,
	})

	rec := httptest.NewRecorder()
	if err := e.Replay(rec, ReplayOptions{CacheControl: true, MaxAge: time.Hour}); err != nil {
		t.Fatal(err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "cached body" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if got := rec.Header().Values("Link"); !slices.Equal(got, []string{"<a>", "<b>"}) {
		t.Errorf("Link = %v, want order preserved", got)
	}
	if got := rec.Header().Get(CachedFromHeader); got != "2026-03-01T12:00:00Z" {
		t.Errorf("%s = %q", CachedFromHeader, got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "max-age=3600, public" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestReplay_NoCacheControl(t *testing.T) {
	t.Parallel()
	e := New(Options{Body: []byte("x")})
	rec := httptest.NewRecorder()
	if err := e.Replay(rec, ReplayOptions{}); err != nil {
		t.Fatal(err)
	}
	if got := rec.Header().Get("Cache-Control"); got != "" {
		t.Errorf("Cache-Control = %q, want empty", got)
	}
}

func TestReplay_NonDefaultStatus(t *testing.T) {
	t.Parallel()
	e := New(Options{Body: []byte("missing"), Status: http.StatusNotFound})
	rec := httptest.NewRecorder()
	if err := e.Replay(rec, ReplayOptions{}); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec.Body.String() != "missing" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestReplay_Idempotent(t *testing.T) {
	t.Parallel()
	e := New(Options{
		Headers: []Header{{Name: "X-One", Value: "1"}, {Name: "X-Two", Value: "2"}},
		Body:    []byte("same every time"),
		Status:  http.StatusAccepted,
	})
	before, err := Marshal(e)
	if err != nil {
		t.Fatal(err)
	}

	r1 := httptest.NewRecorder()
	r2 := httptest.NewRecorder()
	_ = e.Replay(r1, ReplayOptions{CacheControl: true, MaxAge: time.Minute})
	_ = e.Replay(r2, ReplayOptions{CacheControl: true, MaxAge: time.Minute})

	if r1.Code != r2.Code {
		t.Errorf("status differs: %d vs %d", r1.Code, r2.Code)
	}
	if !bytes.Equal(r1.Body.Bytes(), r2.Body.Bytes()) {
		t.Error("bodies differ between replays")
	}
	h1, h2 := r1.Header().Clone(), r2.Header().Clone()
	h1.Del(CachedFromHeader)
	h2.Del(CachedFromHeader)
	if !slices.Equal(FromHeader(h1), FromHeader(h2)) {
		t.Errorf("headers differ: %v vs %v", h1, h2)
	}

	after, err := Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("replay mutated the envelope")
	}
}

func TestFromHeader(t *testing.T) {
	t.Parallel()
	h := http.Header{}
	h.Add("X-B", "1")
	h.Add("X-A", "2")
	h.Add("X-A", "3")
	want := []Header{{Name: "X-A", Value: "2"}, {Name: "X-A", Value: "3"}, {Name: "X-B", Value: "1"}}
	if got := FromHeader(h); !slices.Equal(got, want) {
		t.Errorf("FromHeader = %v, want %v", got, want)
	}
}
