package api

import (
	"sync"
	"time"
)

// RateLimiter applies a per-client sliding-window budget to uploads.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	hits  map[string][]time.Time
	sweep time.Time
}

// NewRateLimiter builds a limiter allowing limit hits per window per client.
// A nil limiter (or limit <= 0) allows everything.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// Allow records an attempt for the client and reports whether it fits the
// budget. Refused attempts are not recorded.
func (l *RateLimiter) Allow(client string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	recent := prune(l.hits[client], cutoff)
	if len(recent) >= l.limit {
		l.hits[client] = recent
		return false
	}
	l.hits[client] = append(recent, now)

	if now.Sub(l.sweep) > l.window {
		l.sweepLocked(cutoff)
		l.sweep = now
	}
	return true
}

// RetryAfter returns how long the client must wait for the next slot.
func (l *RateLimiter) RetryAfter(client string) time.Duration {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := prune(l.hits[client], l.now().Add(-l.window))
	if len(recent) < l.limit {
		return 0
	}
	return recent[0].Add(l.window).Sub(l.now())
}

func (l *RateLimiter) sweepLocked(cutoff time.Time) {
	for client, stamps := range l.hits {
		recent := prune(stamps, cutoff)
		if len(recent) == 0 {
			delete(l.hits, client)
			continue
		}
		l.hits[client] = recent
	}
}

func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	return stamps[idx:]
}
