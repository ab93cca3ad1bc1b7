// Package ratelimit implements an in-memory sliding-window limiter.
//
// A fixed wall-clock-minute bucket (Redis INCR on a per-minute key) lets a
// caller burst up to 2x the nominal limit across a minute boundary, so the
// limiter instead keeps a pruned timestamp slice per subject: every check
// drops timestamps older than the window before counting, and the limit
// holds over any trailing window, not just wall-clock-aligned ones.
// Deliberately process-local (not Redis-backed), matching this
// orchestrator's single-process deployment model.
package ratelimit

import (
	"sync"
	"time"

	"github.com/visgate-ai/deploy-orchestrator/pkg/telemetry"
)

// Info carries the values the caller renders as X-RateLimit-* response
// headers.
type Info struct {
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int
}

type subject struct {
	mu    sync.Mutex
	hits  []time.Time
}

// Limiter is a sliding-window limiter keyed by an arbitrary subject string
// (a user_hash or a client IP), each with its own independent window.
type Limiter struct {
	mu       sync.Mutex
	subjects map[string]*subject
	limit    int
	window   time.Duration
	scope    string
	now      func() time.Time
}

// New builds a Limiter that allows at most limit hits in any trailing
// window, reported under scope for the rate_limit_rejections_total metric.
func New(limit int, window time.Duration, scope string) *Limiter {
	return &Limiter{
		subjects: make(map[string]*subject),
		limit:    limit,
		window:   window,
		scope:    scope,
		now:      time.Now,
	}
}

func (l *Limiter) subjectFor(key string) *subject {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.subjects[key]
	if !ok {
		s = &subject{}
		l.subjects[key] = s
	}
	return s
}

// Allow records one hit for key and reports whether it fits within the
// limit for the trailing window ending now.
func (l *Limiter) Allow(key string) (bool, Info) {
	s := l.subjectFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	live := s.hits[:0]
	for _, t := range s.hits {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	s.hits = live

	if len(s.hits) >= l.limit {
		telemetry.RecordRateLimitRejection(l.scope)
		retryAfter := int(s.hits[0].Add(l.window).Sub(now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, Info{
			Limit:      l.limit,
			Remaining:  0,
			ResetAt:    s.hits[0].Add(l.window),
			RetryAfter: retryAfter,
		}
	}

	s.hits = append(s.hits, now)
	return true, Info{
		Limit:     l.limit,
		Remaining: l.limit - len(s.hits),
		ResetAt:   now.Add(l.window),
	}
}

// Sweep drops subjects with no hits inside the window, bounding memory for
// long-lived processes with many distinct callers. Intended to be called
// periodically by a background ticker.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	for key, s := range l.subjects {
		s.mu.Lock()
		empty := len(s.hits) == 0 || s.hits[len(s.hits)-1].Before(cutoff)
		s.mu.Unlock()
		if empty {
			delete(l.subjects, key)
		}
	}
}
