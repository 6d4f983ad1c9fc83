package api

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 2, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("u1") || !rl.Allow("u1") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("u1") {
		t.Error("third request within window should be refused")
	}
	if !rl.Allow("u2") {
		t.Error("limits are per learner")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("u1") {
		t.Error("request after window should pass")
	}
}

func TestRateLimiterEvict(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 5, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.Allow("old")

	now = now.Add(2 * time.Minute)
	rl.Allow("new")
	rl.evict()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.requests["old"]; ok {
		t.Error("expired key should be evicted")
	}
	if len(rl.requests["new"]) != 1 {
		t.Errorf("expected one request for new, got %d", len(rl.requests["new"]))
	}
}
