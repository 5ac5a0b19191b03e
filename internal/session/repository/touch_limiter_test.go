package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newMiniRedisClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedisTouchLimiter(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniRedisClient(t)
	l := NewRedisTouchLimiter(client, time.Minute)

	if !l.Allow(ctx, "s1") {
		t.Fatal("first touch should be allowed")
	}
	if l.Allow(ctx, "s1") {
		t.Fatal("second touch within interval should be denied")
	}
	if !l.Allow(ctx, "s2") {
		t.Fatal("other session should be allowed")
	}

	mr.FastForward(time.Minute + time.Second)
	if !l.Allow(ctx, "s1") {
		t.Fatal("touch after interval should be allowed")
	}
}

func TestRedisTouchLimiter_ErrorAllows(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	l := NewRedisTouchLimiter(client, time.Minute)
	mr.Close()

	if !l.Allow(context.Background(), "s1") {
		t.Fatal("redis failure should allow the touch")
	}
}

func TestMemoryTouchLimiter(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryTouchLimiter(time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow(ctx, "s1") {
		t.Fatal("first touch should be allowed")
	}
	now = now.Add(30 * time.Second)
	if l.Allow(ctx, "s1") {
		t.Fatal("touch within interval should be denied")
	}
	now = now.Add(31 * time.Second)
	if !l.Allow(ctx, "s1") {
		t.Fatal("touch after interval should be allowed")
	}
}

func TestTouchLimiter_ZeroIntervalAlwaysAllows(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryTouchLimiter(0)
	if !l.Allow(ctx, "s1") || !l.Allow(ctx, "s1") {
		t.Error("zero interval should always allow")
	}
}
