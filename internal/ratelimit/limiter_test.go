package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"booky.app/internal/kvstore"
)

func newLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	store, err := kvstore.NewRedis(context.Background(), kvstore.RedisConfig{Addr: mr.Addr()}, time.Second)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, limit, window), mr
}

func TestLimitPlusOneIsRejected(t *testing.T) {
	lim, _ := newLimiter(t, 3, time.Minute)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		ok, err := lim.Allow(ctx, "alice@x.com")
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("call %d should be allowed", i)
		}
	}
	ok, err := lim.Allow(ctx, "alice@x.com")
	if err != nil {
		t.Fatalf("call 4: %v", err)
	}
	if ok {
		t.Fatalf("call limit+1 must be rejected")
	}
}

func TestWindowResetsCounter(t *testing.T) {
	lim, mr := newLimiter(t, 1, 10*time.Second)
	ctx := context.Background()

	if ok, _ := lim.Allow(ctx, "bob@x.com"); !ok {
		t.Fatalf("first call should pass")
	}
	if ok, _ := lim.Allow(ctx, "bob@x.com"); ok {
		t.Fatalf("second call should be limited")
	}
	if ttl := mr.TTL("rate_limit:bob@x.com"); ttl <= 0 || ttl > 10*time.Second {
		t.Fatalf("unexpected window ttl: %v", ttl)
	}

	mr.FastForward(11 * time.Second)

	ok, err := lim.Allow(ctx, "bob@x.com")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !ok {
		t.Fatalf("first call after window should pass")
	}
	got, err := mr.Get("rate_limit:bob@x.com")
	if err != nil {
		t.Fatalf("read counter: %v", err)
	}
	if got != "1" {
		t.Fatalf("expected counter reset to 1, got %s", got)
	}
}

func TestIdentitiesAreIndependentAndNormalized(t *testing.T) {
	lim, _ := newLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if ok, _ := lim.Allow(ctx, "Carol@X.com"); !ok {
		t.Fatalf("first call should pass")
	}
	if ok, _ := lim.Allow(ctx, "carol@x.com "); ok {
		t.Fatalf("normalized identity should share the counter")
	}
	if ok, _ := lim.Allow(ctx, "dave@x.com"); !ok {
		t.Fatalf("other identity must not be affected")
	}
}

func TestCounterWithoutExpiryIsHealed(t *testing.T) {
	lim, mr := newLimiter(t, 1, time.Minute)
	ctx := context.Background()
	if err := mr.Set("rate_limit:erin@x.com", "5"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if ok, _ := lim.Allow(ctx, "erin@x.com"); ok {
		t.Fatalf("expected rejection")
	}
	if ttl := mr.TTL("rate_limit:erin@x.com"); ttl != time.Minute {
		t.Fatalf("expected window reattached, got %v", ttl)
	}
	if d := lim.RetryAfter(ctx, "erin@x.com"); d <= 0 || d > time.Minute {
		t.Fatalf("unexpected retry-after: %v", d)
	}
}

func TestCheckValidatesArguments(t *testing.T) {
	lim, _ := newLimiter(t, 1, time.Minute)
	if _, err := lim.Check(context.Background(), "", 1, time.Minute); err == nil {
		t.Fatalf("expected error for empty identity")
	}
	if _, err := lim.Check(context.Background(), "x", 0, time.Minute); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}
