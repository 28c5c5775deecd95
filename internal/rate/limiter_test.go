package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestHitFixedWindow(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Hit(ctx, "k", 3, time.Minute); err != nil {
			t.Fatalf("hit %d: %v", i, err)
		}
	}
	if err := l.Hit(ctx, "k", 3, time.Minute); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.Hit(ctx, "k", 3, time.Minute); err != nil {
		t.Fatalf("expected window reset, got %v", err)
	}
}

func TestHitDoesNotExtendWindow(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()

	if err := l.Hit(ctx, "w", 5, time.Minute); err != nil {
		t.Fatalf("hit: %v", err)
	}
	mr.FastForward(40 * time.Second)
	if err := l.Hit(ctx, "w", 5, time.Minute); err != nil {
		t.Fatalf("hit: %v", err)
	}
	if ttl := mr.TTL(keyPrefix + "w"); ttl > 20*time.Second {
		t.Fatalf("window extended, ttl %v", ttl)
	}
	if got, _ := mr.Get(keyPrefix + "w"); got != "2" {
		t.Fatalf("count = %q, want 2", got)
	}
}

func TestReset(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()

	_ = l.Hit(ctx, "a", 10, time.Minute)
	_ = l.Hit(ctx, "b", 10, time.Minute)
	if err := l.Reset(ctx, "a"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if mr.Exists(keyPrefix + "a") {
		t.Fatal("expected counter a removed")
	}
	if !mr.Exists(keyPrefix + "b") {
		t.Fatal("counter b must survive")
	}
}

func TestUnavailableWrapsRedisError(t *testing.T) {
	l, mr := newTestLimiter(t)
	mr.Close()

	err := l.Hit(context.Background(), "k", 1, time.Minute)
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var l *Limiter
	if err := l.Hit(context.Background(), "k", 1, time.Minute); err != nil {
		t.Fatalf("nil limiter should allow, got %v", err)
	}
}
