// Package blacklist records revoked token identifiers until the moment the
// token would have expired on its own.
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"booky.app/internal/kvstore"
)

const sentinel = "1"

// Blacklist is keyed by token jti.
type Blacklist struct {
	store kvstore.Store
	now   func() time.Time
}

// New constructs a Blacklist over store.
func New(store kvstore.Store) *Blacklist {
	return &Blacklist{store: store, now: time.Now}
}

// WithClock overrides time source (useful for tests).
func (b *Blacklist) WithClock(fn func() time.Time) *Blacklist {
	if fn != nil {
		b.now = fn
	}
	return b
}

func key(jti string) string {
	return kvstore.Key(kvstore.BlacklistPrefix, jti)
}

// Revoke blocks jti for remaining. A token with no lifetime left is already
// dead, so remaining <= 0 writes nothing.
func (b *Blacklist) Revoke(ctx context.Context, jti string, remaining time.Duration) error {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return errors.New("blacklist: jti is required")
	}
	if remaining <= 0 {
		return nil
	}
	if err := b.store.Set(ctx, key(jti), []byte(sentinel), remaining); err != nil {
		return fmt.Errorf("blacklist: revoke: %w", err)
	}
	return nil
}

// RevokeUntil blocks jti until expiresAt.
func (b *Blacklist) RevokeUntil(ctx context.Context, jti string, expiresAt time.Time) error {
	return b.Revoke(ctx, jti, expiresAt.Sub(b.now()))
}

// IsRevoked reports whether jti has a live blacklist entry.
func (b *Blacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return false, nil
	}
	if _, err := b.store.Get(ctx, key(jti)); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("blacklist: lookup: %w", err)
	}
	return true, nil
}
