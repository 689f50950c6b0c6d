// Package ratelimit provides an injectable fixed-window rate limiter for
// hot endpoints. It is a collaborator passed into handlers, never
// process-wide mutable state baked into them.
package ratelimit

import (
	"sync"
	"time"
)

// Config sets the window length and the request budget per key within it.
type Config struct {
	Window time.Duration
	Max    int
}

// Limiter counts requests per key in fixed windows.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	start time.Time
	count int
}

// New creates a limiter. A Max of 0 disables limiting.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// NewWithClock is the test constructor with an injectable clock.
func NewWithClock(cfg Config, now func() time.Time) *Limiter {
	l := New(cfg)
	l.now = now
	return l
}

// Allow reports whether another request for key fits in the current
// window, counting it if so.
func (l *Limiter) Allow(key string) bool {
	if l.cfg.Max <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.cfg.Window {
		l.windows[key] = &window{start: now, count: 1}
		l.prune(now)
		return true
	}

	if w.count >= l.cfg.Max {
		return false
	}
	w.count++
	return true
}

// prune drops expired windows so the map does not grow unbounded.
// Called with the lock held.
func (l *Limiter) prune(now time.Time) {
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.cfg.Window {
			delete(l.windows, key)
		}
	}
}
