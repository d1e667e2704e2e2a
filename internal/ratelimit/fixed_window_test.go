package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowLimiterRedis(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	ctx := context.Background()
	if !limiter.Allow(ctx, "203.0.113.5") {
		t.Fatal("first upload should pass")
	}
	if !limiter.Allow(ctx, "203.0.113.5") {
		t.Fatal("second upload should pass")
	}
	if limiter.Allow(ctx, "203.0.113.5") {
		t.Fatal("third upload should be blocked")
	}
	if !limiter.Allow(ctx, "203.0.113.6") {
		t.Fatal("other clients keep their own quota")
	}
}

func TestFixedWindowLimiterResetsOnNextWindow(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	if !limiter.Allow(ctx, "ip-1") {
		t.Fatal("first request should pass")
	}
	if limiter.Allow(ctx, "ip-1") {
		t.Fatal("second request in window should be blocked")
	}
	now = now.Add(time.Minute)
	if !limiter.Allow(ctx, "ip-1") {
		t.Fatal("request in next window should pass")
	}
}

func TestFixedWindowLimiterRetryAfter(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	limiter.now = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 45, 200_000_000, time.UTC) }
	if got := limiter.RetryAfter(); got != 15*time.Second {
		t.Fatalf("RetryAfter() = %v, want 15s", got)
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	redis.Close()
	if limiter.Allow(context.Background(), "ip-1") {
		t.Fatal("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresRedisAddr(t *testing.T) {
	limiter, err := NewRedisFixedWindowLimiter("", "", "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatal("expected constructor error for empty redis addr")
	}
}
