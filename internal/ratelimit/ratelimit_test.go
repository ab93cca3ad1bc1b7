package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowsUpToLimit(t *testing.T) {
	l := New(2, time.Minute, "test")

	allowed, _ := l.Allow("user-a")
	if !allowed {
		t.Fatal("first request should be allowed")
	}
	allowed, _ = l.Allow("user-a")
	if !allowed {
		t.Fatal("second request should be allowed")
	}
	allowed, info := l.Allow("user-a")
	if allowed {
		t.Fatal("third request should be rejected")
	}
	if info.RetryAfter < 1 {
		t.Fatalf("expected a positive retry-after, got %d", info.RetryAfter)
	}
}

func TestLimiterSlidesRatherThanResettingOnBoundary(t *testing.T) {
	base := time.Now()
	l := New(2, time.Minute, "test")
	l.now = func() time.Time { return base }

	l.Allow("user-a")
	l.now = func() time.Time { return base.Add(30 * time.Second) }
	l.Allow("user-a")

	// At +61s the first hit has aged out of the trailing 60s window but the
	// second (at +30s) has not, so exactly one slot is free.
	l.now = func() time.Time { return base.Add(61 * time.Second) }
	allowed, _ := l.Allow("user-a")
	if !allowed {
		t.Fatal("expected one slot free once the first hit aged out of the window")
	}

	allowed, _ = l.Allow("user-a")
	if allowed {
		t.Fatal("expected the second slot to still be consumed by the +30s hit")
	}
}

func TestLimiterSubjectsAreIndependent(t *testing.T) {
	l := New(1, time.Minute, "test")

	allowed, _ := l.Allow("user-a")
	if !allowed {
		t.Fatal("user-a first request should be allowed")
	}
	allowed, _ = l.Allow("user-b")
	if !allowed {
		t.Fatal("user-b should have its own independent window")
	}
}

func TestSweepDropsIdleSubjects(t *testing.T) {
	base := time.Now()
	l := New(5, time.Minute, "test")
	l.now = func() time.Time { return base }
	l.Allow("user-a")

	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	l.Sweep()

	l.mu.Lock()
	_, exists := l.subjects["user-a"]
	l.mu.Unlock()
	if exists {
		t.Fatal("expected idle subject to be swept")
	}
}
