package blacklist

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"booky.app/internal/kvstore"
)

func newRedisBlacklist(t *testing.T) (*Blacklist, *miniredis.Miniredis) {
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
	return New(store), mr
}

func TestRevokedUntilRemainingLifetime(t *testing.T) {
	bl, mr := newRedisBlacklist(t)
	ctx := context.Background()

	if err := bl.Revoke(ctx, "jti-1", 30*time.Second); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	revoked, err := bl.IsRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected revoked immediately, got %v err=%v", revoked, err)
	}

	mr.FastForward(29 * time.Second)
	if revoked, _ := bl.IsRevoked(ctx, "jti-1"); !revoked {
		t.Fatalf("entry must not expire before the token")
	}

	mr.FastForward(2 * time.Second)
	if revoked, _ := bl.IsRevoked(ctx, "jti-1"); revoked {
		t.Fatalf("entry must not outlive the token")
	}
}

func TestRevokeWithNoLifetimeIsNoop(t *testing.T) {
	bl, mr := newRedisBlacklist(t)
	ctx := context.Background()

	if err := bl.Revoke(ctx, "jti-dead", 0); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := bl.Revoke(ctx, "jti-dead", -time.Second); err != nil {
		t.Fatalf("Revoke negative: %v", err)
	}
	if mr.Exists("bl:jti-dead") {
		t.Fatalf("no entry expected for an already expired token")
	}
}

func TestRevokeUntilUsesClock(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store := kvstore.NewMemory().WithClock(func() time.Time { return now })
	bl := New(store).WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := bl.RevokeUntil(ctx, "jti-2", now.Add(time.Minute)); err != nil {
		t.Fatalf("RevokeUntil: %v", err)
	}
	ttl, err := store.TTL(ctx, "bl:jti-2")
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl != time.Minute {
		t.Fatalf("expected ttl equal to remaining lifetime, got %v", ttl)
	}
	if err := bl.RevokeUntil(ctx, "jti-3", now.Add(-time.Second)); err != nil {
		t.Fatalf("RevokeUntil past: %v", err)
	}
	if revoked, _ := bl.IsRevoked(ctx, "jti-3"); revoked {
		t.Fatalf("expired token needs no entry")
	}
}

func TestIsRevokedSurfacesStoreFailure(t *testing.T) {
	bl, mr := newRedisBlacklist(t)
	mr.Close()
	_, err := bl.IsRevoked(context.Background(), "jti-x")
	if !errors.Is(err, kvstore.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
