// Package ratelimit provides a sliding-window request limiter keyed by
// client IP.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks request timestamps per key and rejects requests once a key
// exceeds the configured count within the window. Entries older than the
// window are pruned on each check, so memory stays bounded by active keys.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	history map[string][]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// New returns a limiter that allows limit requests per key within window.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records a request for key and reports whether it fits the window.
// A rejected request is not recorded, so hammering a limited key does not
// extend its lockout.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.history[key][:0]
	for _, ts := range l.history[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.limit {
		l.history[key] = kept
		return false
	}

	l.history[key] = append(kept, now)
	return true
}

// Retry returns how long the key must wait before its next request can
// succeed. Zero means a request would be allowed now.
func (l *Limiter) Retry(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamps := l.history[key]
	if len(timestamps) < l.limit {
		return 0
	}
	oldest := timestamps[len(timestamps)-l.limit]
	wait := oldest.Add(l.window).Sub(l.now())
	if wait < 0 {
		return 0
	}
	return wait
}

// Size reports how many keys currently have recorded history.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}

// Window returns the configured sliding-window duration.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Prune drops keys whose entire history has aged out of the window.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for key, timestamps := range l.history {
		stale := true
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.history, key)
		}
	}
}
