package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booky.app/internal/blacklist"
	"booky.app/internal/token"
)

// Strategy names, matching config.RefreshMode values.
const (
	ModeCookie = "cookie"
	ModeBearer = "bearer"
)

// ErrUnauthorized covers every refresh failure: missing session, bad or
// expired token, revoked token. Callers must not distinguish further.
var ErrUnauthorized = errors.New("session: unauthorized")

// Credentials is what the client presented. SessionID comes from the cookie,
// RefreshToken from the request body or header.
type Credentials struct {
	SessionID    string
	RefreshToken string
}

// Grant is the outcome of a login or refresh.
type Grant struct {
	UserID    string
	SessionID string
	Access    token.Token
	// Refresh is set on login and whenever a refresh rotated the token.
	Refresh token.Token
	Rotated bool
	// SessionTTL is how long the server-side session now lives. Zero in
	// bearer mode.
	SessionTTL time.Duration
}

// Strategy is one way of carrying refresh state between client and server.
type Strategy interface {
	Mode() string
	// Start mints the first token pair for an authenticated user.
	Start(ctx context.Context, sub token.Subject) (Grant, error)
	// Refresh exchanges presented credentials for a new access token.
	Refresh(ctx context.Context, creds Credentials) (Grant, error)
	// Revoke ends whatever the credentials refer to. Absent or already
	// invalid credentials are not an error.
	Revoke(ctx context.Context, creds Credentials) error
}

// Options are shared by both strategies.
type Options struct {
	// Rotate issues a new refresh token on every refresh and blacklists the
	// previous one for the rest of its lifetime.
	Rotate bool
}

// New selects a strategy by mode.
func New(mode string, issuer *token.Issuer, bl *blacklist.Blacklist, registry *Registry, opts Options) (Strategy, error) {
	switch mode {
	case "", ModeCookie:
		if registry == nil {
			return nil, errors.New("session: cookie mode requires a registry")
		}
		return &CookieStrategy{issuer: issuer, blacklist: bl, registry: registry, rotate: opts.Rotate}, nil
	case ModeBearer:
		return &BearerStrategy{issuer: issuer, blacklist: bl, rotate: opts.Rotate}, nil
	default:
		return nil, fmt.Errorf("session: unknown refresh mode %q", mode)
	}
}

func subjectFrom(claims *token.Claims) token.Subject {
	return token.Subject{UserID: claims.Subject, Email: claims.Email, Username: claims.Username}
}

// verifyRefresh parses raw as a refresh token and consults the blacklist.
// Store failures are returned as-is; everything else is ErrUnauthorized.
func verifyRefresh(ctx context.Context, issuer *token.Issuer, bl *blacklist.Blacklist, raw string) (token.Token, *token.Claims, error) {
	tok, claims, err := issuer.Parse(raw, token.TypeRefresh)
	if err != nil {
		return token.Token{}, nil, ErrUnauthorized
	}
	revoked, err := bl.IsRevoked(ctx, tok.ID)
	if err != nil {
		return token.Token{}, nil, err
	}
	if revoked {
		return token.Token{}, nil, ErrUnauthorized
	}
	return tok, claims, nil
}

// revokeRaw blacklists raw if it still parses as a live refresh token.
func revokeRaw(ctx context.Context, issuer *token.Issuer, bl *blacklist.Blacklist, raw string) error {
	if raw == "" {
		return nil
	}
	tok, _, err := issuer.Parse(raw, token.TypeRefresh)
	if err != nil {
		return nil
	}
	return bl.RevokeUntil(ctx, tok.ID, tok.ExpiresAt)
}

// CookieStrategy keeps the refresh token server-side; the client only holds
// an opaque session id.
type CookieStrategy struct {
	issuer    *token.Issuer
	blacklist *blacklist.Blacklist
	registry  *Registry
	rotate    bool
}

func (s *CookieStrategy) Mode() string { return ModeCookie }

func (s *CookieStrategy) Start(ctx context.Context, sub token.Subject) (Grant, error) {
	sid, err := s.registry.NewID()
	if err != nil {
		return Grant{}, err
	}
	refresh, err := s.issuer.IssueRefresh(sub, sid)
	if err != nil {
		return Grant{}, err
	}
	access, err := s.issuer.IssueAccess(sub, sid)
	if err != nil {
		return Grant{}, err
	}
	now := s.issuer.Now()
	entry := Entry{UserID: sub.UserID, RefreshToken: refresh.Raw, CreatedAt: now.UTC()}
	remaining := refresh.Remaining(now)
	if err := s.registry.Put(ctx, sid, entry, remaining); err != nil {
		return Grant{}, err
	}
	return Grant{
		UserID:     sub.UserID,
		SessionID:  sid,
		Access:     access,
		Refresh:    refresh,
		SessionTTL: s.registry.Lifetime(remaining),
	}, nil
}

func (s *CookieStrategy) Refresh(ctx context.Context, creds Credentials) (Grant, error) {
	entry, err := s.registry.Get(ctx, creds.SessionID)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return Grant{}, ErrUnauthorized
		}
		return Grant{}, err
	}
	current, claims, err := verifyRefresh(ctx, s.issuer, s.blacklist, entry.RefreshToken)
	if err != nil {
		return Grant{}, err
	}
	if current.SessionID != creds.SessionID || current.Subject != entry.UserID {
		return Grant{}, ErrUnauthorized
	}
	sub := subjectFrom(claims)
	access, err := s.issuer.IssueAccess(sub, creds.SessionID)
	if err != nil {
		return Grant{}, err
	}
	grant := Grant{UserID: sub.UserID, SessionID: creds.SessionID, Access: access}
	if !s.rotate {
		// Activity slides the session forward, never past the refresh token.
		ttl, err := s.registry.Extend(ctx, creds.SessionID, current.Remaining(s.issuer.Now()))
		if err != nil {
			if errors.Is(err, ErrNoSession) {
				return Grant{}, ErrUnauthorized
			}
			return Grant{}, err
		}
		grant.SessionTTL = ttl
		return grant, nil
	}

	next, err := s.issuer.IssueRefresh(sub, creds.SessionID)
	if err != nil {
		return Grant{}, err
	}
	entry.RefreshToken = next.Raw
	remaining := next.Remaining(s.issuer.Now())
	if err := s.registry.Put(ctx, creds.SessionID, entry, remaining); err != nil {
		return Grant{}, err
	}
	// A concurrent refresh holding the old token can still succeed until this
	// write lands; that window is one store round-trip.
	if err := s.blacklist.RevokeUntil(ctx, current.ID, current.ExpiresAt); err != nil {
		return Grant{}, err
	}
	grant.Refresh = next
	grant.Rotated = true
	grant.SessionTTL = s.registry.Lifetime(remaining)
	return grant, nil
}

func (s *CookieStrategy) Revoke(ctx context.Context, creds Credentials) error {
	entry, err := s.registry.Get(ctx, creds.SessionID)
	switch {
	case errors.Is(err, ErrNoSession):
		return revokeRaw(ctx, s.issuer, s.blacklist, creds.RefreshToken)
	case err != nil:
		return err
	}
	if err := s.registry.Delete(ctx, creds.SessionID); err != nil {
		return err
	}
	return revokeRaw(ctx, s.issuer, s.blacklist, entry.RefreshToken)
}

// BearerStrategy hands the refresh token to the client and keeps no
// server-side session state.
type BearerStrategy struct {
	issuer    *token.Issuer
	blacklist *blacklist.Blacklist
	rotate    bool
}

func (s *BearerStrategy) Mode() string { return ModeBearer }

func (s *BearerStrategy) Start(_ context.Context, sub token.Subject) (Grant, error) {
	refresh, err := s.issuer.IssueRefresh(sub, "")
	if err != nil {
		return Grant{}, err
	}
	access, err := s.issuer.IssueAccess(sub, "")
	if err != nil {
		return Grant{}, err
	}
	return Grant{UserID: sub.UserID, Access: access, Refresh: refresh}, nil
}

func (s *BearerStrategy) Refresh(ctx context.Context, creds Credentials) (Grant, error) {
	current, claims, err := verifyRefresh(ctx, s.issuer, s.blacklist, creds.RefreshToken)
	if err != nil {
		return Grant{}, err
	}
	sub := subjectFrom(claims)
	access, err := s.issuer.IssueAccess(sub, "")
	if err != nil {
		return Grant{}, err
	}
	grant := Grant{UserID: sub.UserID, Access: access}
	if !s.rotate {
		return grant, nil
	}
	next, err := s.issuer.IssueRefresh(sub, "")
	if err != nil {
		return Grant{}, err
	}
	if err := s.blacklist.RevokeUntil(ctx, current.ID, current.ExpiresAt); err != nil {
		return Grant{}, err
	}
	grant.Refresh = next
	grant.Rotated = true
	return grant, nil
}

func (s *BearerStrategy) Revoke(ctx context.Context, creds Credentials) error {
	return revokeRaw(ctx, s.issuer, s.blacklist, creds.RefreshToken)
}
