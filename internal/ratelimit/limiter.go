// Package ratelimit implements a fixed-window request counter shared by every
// service instance through the key-value store.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"booky.app/internal/kvstore"
)

// ErrLimited is returned by callers that translate a rejected check into an error.
var ErrLimited = errors.New("ratelimit: limit exceeded")

// Limiter counts actions per identity inside a TTL window.
type Limiter struct {
	store  kvstore.Store
	limit  int
	window time.Duration
}

// New builds a limiter with default limit and window used by Allow.
func New(store kvstore.Store, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

func key(identity string) string {
	return kvstore.Key(kvstore.RateLimitPrefix, strings.ToLower(strings.TrimSpace(identity)))
}

// Allow applies the default limit and window.
func (l *Limiter) Allow(ctx context.Context, identity string) (bool, error) {
	return l.Check(ctx, identity, l.limit, l.window)
}

// Check increments the counter for identity and reports whether the call is
// within limit. The window starts on the first increment. Rejected calls still
// count; the counter is not rolled back.
func (l *Limiter) Check(ctx context.Context, identity string, limit int, window time.Duration) (bool, error) {
	if strings.TrimSpace(identity) == "" {
		return false, errors.New("ratelimit: identity is required")
	}
	if limit <= 0 || window <= 0 {
		return false, errors.New("ratelimit: limit and window must be positive")
	}
	k := key(identity)
	count, err := l.store.Incr(ctx, k)
	if err != nil {
		return false, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if count == 1 {
		if _, err := l.store.Expire(ctx, k, window); err != nil {
			return false, fmt.Errorf("ratelimit: expire: %w", err)
		}
		return true, nil
	}
	if count <= int64(limit) {
		return true, nil
	}
	// A counter left without expiry (process died between INCR and EXPIRE)
	// would block the identity forever.
	if ttl, err := l.store.TTL(ctx, k); err == nil && ttl == 0 {
		_, _ = l.store.Expire(ctx, k, window)
	}
	return false, nil
}

// RetryAfter reports how long until the identity's window resets.
func (l *Limiter) RetryAfter(ctx context.Context, identity string) time.Duration {
	ttl, err := l.store.TTL(ctx, key(identity))
	if err != nil || ttl <= 0 {
		return l.window
	}
	return ttl
}
