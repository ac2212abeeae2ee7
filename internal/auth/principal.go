package auth

import (
	"context"
	"time"
)

// Principal is the caller identity established from a verified access token.
type Principal struct {
	UserID    string
	Email     string
	Username  string
	SessionID string
	TokenID   string
	ExpiresAt time.Time
	// Token is the raw access token, kept so logout can revoke it.
	Token string
}

type principalKey struct{}

// WithPrincipal attaches the authenticated principal to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}
