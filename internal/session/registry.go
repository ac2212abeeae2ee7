// Package session maps opaque session ids to refresh tokens and implements
// the two refresh strategies: cookie-indirected and bearer refresh token.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"booky.app/internal/ids"
	"booky.app/internal/kvstore"
)

// ErrNoSession is returned when a session id has no live registry entry.
var ErrNoSession = errors.New("session: not found")

// Entry is the registry value stored under session:<id>.
type Entry struct {
	UserID       string    `json:"user_id"`
	RefreshToken string    `json:"refresh_token"`
	CreatedAt    time.Time `json:"created_at"`
}

// Registry holds at most one refresh token per session id.
type Registry struct {
	store kvstore.Store
	ttl   time.Duration
}

// NewRegistry builds a registry whose entries live at most ttl.
func NewRegistry(store kvstore.Store, ttl time.Duration) *Registry {
	return &Registry{store: store, ttl: ttl}
}

// TTL is the configured session lifetime.
func (r *Registry) TTL() time.Duration { return r.ttl }

// NewID returns a fresh session id.
func (r *Registry) NewID() (string, error) {
	return ids.Opaque()
}

func key(sessionID string) string {
	return kvstore.Key(kvstore.SessionPrefix, sessionID)
}

// Lifetime is the TTL an entry bounded by maxAge is written with.
func (r *Registry) Lifetime(maxAge time.Duration) time.Duration {
	if maxAge > 0 && (r.ttl <= 0 || maxAge < r.ttl) {
		return maxAge
	}
	return r.ttl
}

// Put writes entry under sessionID, replacing any previous entry. The entry
// never outlives maxAge, which callers set to the refresh token's remaining
// lifetime.
func (r *Registry) Put(ctx context.Context, sessionID string, entry Entry, maxAge time.Duration) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || entry.UserID == "" || entry.RefreshToken == "" {
		return errors.New("session: id, user and refresh token are required")
	}
	ttl := r.Lifetime(maxAge)
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := r.store.Set(ctx, key(sessionID), raw, ttl); err != nil {
		return fmt.Errorf("session: put: %w", err)
	}
	return nil
}

// Extend restarts the lifetime of an existing entry, bounded by maxAge. An
// entry deleted in the meantime is not recreated and yields ErrNoSession.
func (r *Registry) Extend(ctx context.Context, sessionID string, maxAge time.Duration) (time.Duration, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, ErrNoSession
	}
	ttl := r.Lifetime(maxAge)
	ok, err := r.store.Expire(ctx, key(sessionID), ttl)
	if err != nil {
		return 0, fmt.Errorf("session: extend: %w", err)
	}
	if !ok {
		return 0, ErrNoSession
	}
	return ttl, nil
}

// Get returns the entry for sessionID or ErrNoSession.
func (r *Registry) Get(ctx context.Context, sessionID string) (Entry, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Entry{}, ErrNoSession
	}
	raw, err := r.store.Get(ctx, key(sessionID))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Entry{}, ErrNoSession
		}
		return Entry{}, fmt.Errorf("session: get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// A corrupt entry cannot be honoured; treat it as absent.
		return Entry{}, ErrNoSession
	}
	return entry, nil
}

// Delete removes sessionID. Deleting an absent session is not an error.
func (r *Registry) Delete(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	if _, err := r.store.Delete(ctx, key(sessionID)); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}
