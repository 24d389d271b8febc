// Package ratelimit implements the per-API-key sliding window admission
// check. Redesigned from the teacher's Redis fixed-window middleware into
// an in-process sliding window per spec §4.3 — see DESIGN.md for the
// rationale.
package ratelimit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type window struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// Limiter is a process-wide sliding-window rate limiter keyed by API key.
type Limiter struct {
	mu      sync.Mutex
	windows map[uuid.UUID]*window
	horizon time.Duration
	now     func() time.Time
}

// New constructs a Limiter with the spec's 60-second sliding window.
func New() *Limiter {
	return &Limiter{
		windows: make(map[uuid.UUID]*window),
		horizon: 60 * time.Second,
		now:     time.Now,
	}
}

// Allow admits a request for the given key if fewer than limit requests
// have occurred in the trailing horizon. The admission and the append of
// the new timestamp happen inside the same per-key critical section, so
// concurrent bursts from one key cannot exceed limit.
func (l *Limiter) Allow(key uuid.UUID, limit int) Decision {
	w := l.windowFor(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.horizon)

	i := 0
	for ; i < len(w.timestamps); i++ {
		if w.timestamps[i].After(cutoff) {
			break
		}
	}
	w.timestamps = w.timestamps[i:]

	if len(w.timestamps) >= limit {
		oldest := w.timestamps[0]
		retryAfter := oldest.Add(l.horizon).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	w.timestamps = append(w.timestamps, now)
	return Decision{Allowed: true}
}

func (l *Limiter) windowFor(key uuid.UUID) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		w = &window{timestamps: make([]time.Time, 0, 8)}
		l.windows[key] = w
	}
	return w
}
