// Package ratelimit bounds how often one client may open a chat stream.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultEvents = 20
	DefaultWindow = time.Minute

	// maxTrackedKeys bounds memory for the in-process limiter.
	maxTrackedKeys = 50_000
)

// Limiter decides whether one more event for key is permitted at now.
// retryAfter is a hint for the Retry-After header when allowed is false.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}

// SlidingWindow is an in-process per-key sliding-window limiter.
// State is local to one instance; use RedisLimiter when running several.
type SlidingWindow struct {
	mu     sync.Mutex
	keys   map[string][]time.Time
	limit  int
	window time.Duration
}

// NewSlidingWindow constructs a SlidingWindow with safe defaults when inputs are invalid.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit <= 0 {
		limit = DefaultEvents
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &SlidingWindow{
		keys:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event for key at time "now" should be permitted.
func (r *SlidingWindow) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	events := r.keys[key]
	dst := events[:0]
	for _, t := range events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}

	if len(dst) >= r.limit {
		r.keys[key] = dst
		return false, dst[0].Add(r.window).Sub(now), nil
	}

	if len(r.keys) >= maxTrackedKeys && len(events) == 0 {
		r.pruneLocked(cut)
	}
	r.keys[key] = append(dst, now)
	return true, 0, nil
}

// pruneLocked drops keys whose events have all expired.
func (r *SlidingWindow) pruneLocked(cut time.Time) {
	for k, events := range r.keys {
		if len(events) == 0 || !events[len(events)-1].After(cut) {
			delete(r.keys, k)
		}
	}
}
