// Package circuitbreaker implements a circuit breaker with a sliding-window
// error rate detector. The cache store uses it to stop calling a failing
// backend, turning a slow timeout into an immediate miss.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all calls through.
	StateClosed State = iota
	// StateOpen rejects all calls.
	StateOpen
	// StateHalfOpen allows a single probe call.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters.
type Config struct {
	ErrorThreshold float64       // weighted error rate to trip (e.g. 0.50)
	MinSamples     int           // minimum calls in the window before the breaker can open
	WindowSeconds  int           // sliding window length, 1..60
	OpenTimeout    time.Duration // time spent open before a probe is let through

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(from, to State)
}

// DefaultConfig returns defaults tuned for a cache backend: the window is
// short and the breaker reopens quickly, since a miss is always recoverable.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold: 0.50,
		MinSamples:     20,
		WindowSeconds:  10,
		OpenTimeout:    5 * time.Second,
	}
}

// slot counts calls made during one wall-clock second.
type slot struct {
	sec    int64
	errors float64 // weighted
	calls  int
}

// window is a ring of per-second slots. A slot is reused when its second
// comes around again, so stale counts drop out without a sweep.
type window struct {
	slots []slot
}

func newWindow(seconds int) window {
	if seconds <= 0 || seconds > 60 {
		seconds = 60
	}
	return window{slots: make([]slot, seconds)}
}

func (w *window) add(now time.Time, weight float64) {
	sec := now.Unix()
	s := &w.slots[sec%int64(len(w.slots))]
	if s.sec != sec {
		*s = slot{sec: sec}
	}
	s.calls++
	s.errors += weight
}

// rate returns the weighted error rate and call count of the last
// len(slots) seconds.
func (w *window) rate(now time.Time) (float64, int) {
	sec := now.Unix()
	oldest := sec - int64(len(w.slots))
	var errs float64
	var calls int
	for _, s := range w.slots {
		if s.sec > oldest && s.sec <= sec {
			errs += s.errors
			calls += s.calls
		}
	}
	if calls == 0 {
		return 0, 0
	}
	return errs / float64(calls), calls
}

func (w *window) reset() { clear(w.slots) }

// transition is a state change to report once the lock is released.
type transition struct{ from, to State }

// Breaker is a circuit breaker guarding one cache backend.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	state    State
	window   window
	openedAt time.Time
	probing  bool // a half-open probe is in flight
	now      func() time.Time
}

// NewBreaker creates a breaker with the given config.
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{
		cfg:    cfg,
		state:  StateClosed,
		window: newWindow(cfg.WindowSeconds),
		now:    time.Now,
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. While half-open exactly one
// probe is let through until its outcome is recorded.
func (b *Breaker) Allow() bool {
	now := b.now()
	b.mu.Lock()
	var (
		ok bool
		t  transition
	)
	switch b.state {
	case StateClosed:
		ok = true
	case StateOpen:
		if now.Sub(b.openedAt) >= b.cfg.OpenTimeout {
			t = b.setState(StateHalfOpen, now)
			b.probing = true
			ok = true
		}
	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			ok = true
		}
	}
	b.mu.Unlock()
	b.notify(t)
	return ok
}

// RecordSuccess records a successful call. A successful probe closes the
// breaker.
func (b *Breaker) RecordSuccess() {
	b.record(0)
}

// RecordError records a failed call with the given error weight.
func (b *Breaker) RecordError(weight float64) {
	b.record(weight)
}

// Record classifies err and records it as a success or a weighted error.
func (b *Breaker) Record(err error) {
	b.record(ClassifyError(err))
}

func (b *Breaker) record(weight float64) {
	now := b.now()
	b.mu.Lock()
	b.window.add(now, weight)

	var t transition
	switch {
	case b.state == StateHalfOpen && weight > 0:
		t = b.setState(StateOpen, now)
	case b.state == StateHalfOpen:
		t = b.setState(StateClosed, now)
	case b.state == StateClosed && weight > 0:
		if rate, calls := b.window.rate(now); calls >= b.cfg.MinSamples && rate >= b.cfg.ErrorThreshold {
			t = b.setState(StateOpen, now)
		}
	}
	b.mu.Unlock()
	b.notify(t)
}

// setState must be called with b.mu held.
func (b *Breaker) setState(to State, now time.Time) transition {
	t := transition{from: b.state, to: to}
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = now
		b.probing = false
	case StateClosed:
		b.probing = false
		b.window.reset()
	}
	return t
}

func (b *Breaker) notify(t transition) {
	if t.from != t.to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(t.from, t.to)
	}
}
