package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or already expired.
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrUnavailable wraps connection failures and timeouts against the backing store.
	ErrUnavailable = errors.New("kvstore: store unavailable")
	// ErrInvalidTTL is returned when a write is attempted with a non-positive TTL.
	ErrInvalidTTL = errors.New("kvstore: ttl must be greater than zero")
)

// Key namespaces. Each namespace carries its own TTL policy.
const (
	PendingPrefix   = "pending_user:"
	SessionPrefix   = "session:"
	BlacklistPrefix = "bl:"
	RateLimitPrefix = "rate_limit:"
)

// Store is the narrow view of the shared key-value store used by every
// accounts component. Implementations must be safe for concurrent use and
// must be correct when several service instances share the same backend.
type Store interface {
	// Set writes value under key with an expiry of ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes keys and reports how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)
	// GetDel atomically reads and removes key. Returns ErrNotFound if absent.
	GetDel(ctx context.Context, key string) ([]byte, error)
	// Scan lists keys beginning with prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)
	// Incr atomically increments the integer at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire attaches ttl to an existing key; false when the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// TTL reports the remaining lifetime of key or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Ping(ctx context.Context) error
	Close() error
}

// Key joins a namespace prefix and an identifier.
func Key(prefix, id string) string {
	return prefix + id
}
