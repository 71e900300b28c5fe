package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/eugener/pagecache/internal/circuitbreaker"
	"github.com/eugener/pagecache/internal/envelope"
	"github.com/eugener/pagecache/internal/telemetry"
)

// DefaultOpTimeout bounds a single backend call.
const DefaultOpTimeout = 50 * time.Millisecond

var errBreakerOpen = errors.New("circuit open")

// StoreOptions configures a Store.
type StoreOptions struct {
	Name      string        // backend name for logs and metrics
	OpTimeout time.Duration // per-call deadline; DefaultOpTimeout when zero
	Breaker   circuitbreaker.Config // zero value means circuitbreaker.DefaultConfig
	Metrics   *telemetry.Metrics // optional
}

// Store adapts a Backend to envelope-typed Get/Set that never fail.
// Timeouts, backend errors, undecodable values and an open circuit all
// degrade to a miss (Get) or a no-op (Set).
type Store struct {
	backend Backend
	name    string
	timeout time.Duration
	breaker *circuitbreaker.Breaker
	metrics *telemetry.Metrics
}

// NewStore wraps b.
func NewStore(b Backend, opts StoreOptions) *Store {
	if opts.Name == "" {
		opts.Name = "cache"
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	cfg := opts.Breaker
	if cfg.ErrorThreshold <= 0 {
		cfg = circuitbreaker.DefaultConfig()
		cfg.OnStateChange = opts.Breaker.OnStateChange
	}
	s := &Store{
		backend: b,
		name:    opts.Name,
		timeout: opts.OpTimeout,
		metrics: opts.Metrics,
	}
	observe := cfg.OnStateChange
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		s.breakerChanged(from, to)
		if observe != nil {
			observe(from, to)
		}
	}
	s.breaker = circuitbreaker.NewBreaker(cfg)
	if s.metrics != nil {
		s.metrics.CacheBreakerState.WithLabelValues(s.name).Set(float64(circuitbreaker.StateClosed))
	}
	return s
}

// breakerChanged reports a breaker transition.
func (s *Store) breakerChanged(from, to circuitbreaker.State) {
	if s.metrics != nil {
		s.metrics.CacheBreakerState.WithLabelValues(s.name).Set(float64(to))
		s.metrics.CacheBreakerTransitions.WithLabelValues(s.name, to.String()).Inc()
	}
	level := slog.LevelInfo
	if to == circuitbreaker.StateOpen {
		level = slog.LevelWarn
	}
	slog.LogAttrs(context.Background(), level, "cache circuit breaker state changed",
		slog.String("backend", s.name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}

// Name returns the backend name.
func (s *Store) Name() string { return s.name }

// BreakerState returns the state of the breaker guarding the backend.
func (s *Store) BreakerState() circuitbreaker.State { return s.breaker.State() }

// Get returns the envelope stored under key, or nil on a miss.
func (s *Store) Get(ctx context.Context, key string) *envelope.Envelope {
	if !s.breaker.Allow() {
		s.fail(ctx, "get", key, errBreakerOpen)
		return nil
	}

	type got struct {
		val []byte
		ok  bool
	}
	r, err := callWithDeadline(ctx, s.timeout, func(ctx context.Context) (got, error) {
		val, ok, err := s.backend.Get(ctx, key)
		return got{val, ok}, err
	})
	s.breaker.Record(err)
	if err != nil {
		s.fail(ctx, "get", key, err)
		return nil
	}
	if !r.ok {
		return nil
	}

	env, err := envelope.Unmarshal(r.val)
	if err != nil {
		s.fail(ctx, "decode", key, err)
		return nil
	}
	return env
}

// Set stores env under key for ttl. A nil envelope is ignored.
func (s *Store) Set(ctx context.Context, key string, env *envelope.Envelope, ttl time.Duration) {
	if env == nil {
		return
	}
	val, err := envelope.Marshal(env)
	if err != nil {
		s.fail(ctx, "encode", key, err)
		return
	}
	if !s.breaker.Allow() {
		s.fail(ctx, "set", key, errBreakerOpen)
		return
	}

	_, err = callWithDeadline(ctx, s.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.backend.Set(ctx, key, val, ttl)
	})
	s.breaker.Record(err)
	if err != nil {
		s.fail(ctx, "set", key, err)
	}
}

func (s *Store) fail(ctx context.Context, op, key string, err error) {
	kind := "error"
	switch {
	case errors.Is(err, errBreakerOpen):
		kind = "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		kind = "timeout"
	case errors.Is(err, context.Canceled):
		kind = "canceled"
	case op == "decode" || op == "encode":
		kind = "codec"
	}
	if s.metrics != nil {
		s.metrics.CacheBackendErrors.WithLabelValues(s.name, op, kind).Inc()
	}
	// Open-breaker and canceled calls are counted, not logged.
	if kind == "breaker_open" || kind == "canceled" {
		return
	}
	slog.LogAttrs(ctx, slog.LevelWarn, "cache unavailable",
		slog.String("backend", s.name),
		slog.String("op", op),
		slog.String("key", key),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
}

// callWithDeadline runs fn under a deadline and stops waiting once it
// passes, even if fn ignores its context.
func callWithDeadline[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
