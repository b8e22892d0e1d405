package ratelimit

import (
	"testing"
	"time"
)

func TestAllowEnforcesLimitPerKey(t *testing.T) {
	limiter := New(2, time.Minute)

	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatal("expected first two requests to pass")
	}
	if limiter.Allow("a") {
		t.Fatal("expected third request to be rejected")
	}
	if !limiter.Allow("b") {
		t.Fatal("expected independent key to pass")
	}
}

func TestAllowSlidesWindow(t *testing.T) {
	current := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	limiter := New(2, time.Minute)
	limiter.now = func() time.Time { return current }

	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatal("expected initial requests to pass")
	}
	if limiter.Allow("a") {
		t.Fatal("expected request inside window to be rejected")
	}

	current = current.Add(61 * time.Second)
	if !limiter.Allow("a") {
		t.Fatal("expected request after window to pass")
	}
}

func TestRejectedRequestsDoNotExtendLockout(t *testing.T) {
	current := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	limiter := New(1, time.Minute)
	limiter.now = func() time.Time { return current }

	if !limiter.Allow("a") {
		t.Fatal("expected first request to pass")
	}
	for i := 0; i < 5; i++ {
		current = current.Add(10 * time.Second)
		if limiter.Allow("a") {
			t.Fatalf("expected rejection at +%ds", (i+1)*10)
		}
	}
	current = current.Add(11 * time.Second)
	if !limiter.Allow("a") {
		t.Fatal("expected request after original window to pass")
	}
}

func TestRetryReportsWait(t *testing.T) {
	current := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	limiter := New(1, time.Minute)
	limiter.now = func() time.Time { return current }

	if got := limiter.Retry("a"); got != 0 {
		t.Fatalf("expected zero wait for fresh key, got %s", got)
	}
	limiter.Allow("a")
	current = current.Add(20 * time.Second)
	if got := limiter.Retry("a"); got != 40*time.Second {
		t.Fatalf("expected 40s wait, got %s", got)
	}
}

func TestPruneDropsStaleKeys(t *testing.T) {
	current := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	limiter := New(1, time.Minute)
	limiter.now = func() time.Time { return current }

	limiter.Allow("a")
	current = current.Add(2 * time.Minute)
	limiter.Allow("b")
	if got := limiter.Size(); got != 2 {
		t.Fatalf("expected 2 tracked keys before prune, got %d", got)
	}
	limiter.Prune()
	if got := limiter.Size(); got != 1 {
		t.Fatalf("expected 1 tracked key after prune, got %d", got)
	}

	limiter.mu.Lock()
	_, hasA := limiter.history["a"]
	_, hasB := limiter.history["b"]
	limiter.mu.Unlock()
	if hasA {
		t.Fatal("expected stale key to be pruned")
	}
	if !hasB {
		t.Fatal("expected active key to survive pruning")
	}
}
