// Package auth orchestrates login, refresh, logout and account deletion, and
// verifies access tokens on inbound requests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"booky.app/internal/audit"
	"booky.app/internal/blacklist"
	"booky.app/internal/obs"
	"booky.app/internal/session"
	"booky.app/internal/token"
	"booky.app/internal/users"
)

// Service provides the token and session lifecycle operations.
type Service struct {
	users     users.Directory
	issuer    *token.Issuer
	blacklist *blacklist.Blacklist
	strategy  session.Strategy
	recorder  *audit.Recorder
}

// NewService wires the lifecycle operations.
func NewService(dir users.Directory, issuer *token.Issuer, bl *blacklist.Blacklist, strategy session.Strategy, recorder *audit.Recorder) *Service {
	return &Service{users: dir, issuer: issuer, blacklist: bl, strategy: strategy, recorder: recorder}
}

// Strategy exposes the configured refresh strategy to the HTTP boundary.
func (s *Service) Strategy() session.Strategy { return s.strategy }

// LoginResult is returned on successful login.
type LoginResult struct {
	User  *users.User
	Grant session.Grant
}

func subjectOf(u *users.User) token.Subject {
	return token.Subject{UserID: u.ID, Email: u.Email, Username: u.Username}
}

// failureDetails classifies an operational failure for the audit trail.
func failureDetails(err error) map[string]any {
	reason := "internal"
	if errors.Is(err, ErrStoreUnavailable) {
		reason = "store_unavailable"
	}
	return map[string]any{"error": reason}
}

// Login checks credentials and starts a session.
func (s *Service) Login(ctx context.Context, email, password string, rc audit.RequestContext) (LoginResult, error) {
	u, err := users.VerifyCredentials(ctx, s.users, email, password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			s.recorder.Record(ctx, "", audit.ActionFailedLogin, rc, map[string]any{"email": users.NormalizeEmail(email)})
			return LoginResult{}, ErrInvalidCredentials
		}
		s.recorder.Record(ctx, "", audit.ActionFailedLogin, rc, failureDetails(err))
		return LoginResult{}, fmt.Errorf("auth: login: %w", err)
	}
	grant, err := s.strategy.Start(ctx, subjectOf(u))
	if err != nil {
		s.recorder.Record(ctx, u.ID, audit.ActionFailedLogin, rc, failureDetails(err))
		return LoginResult{}, fmt.Errorf("auth: start session: %w", err)
	}
	s.recorder.Record(ctx, u.ID, audit.ActionLogin, rc, map[string]any{"strategy": s.strategy.Mode()})
	return LoginResult{User: u, Grant: grant}, nil
}

// Refresh exchanges presented credentials for a new access token. Any
// credential problem is ErrUnauthorized.
func (s *Service) Refresh(ctx context.Context, creds session.Credentials, rc audit.RequestContext) (session.Grant, error) {
	grant, err := s.strategy.Refresh(ctx, creds)
	if err != nil {
		if errors.Is(err, session.ErrUnauthorized) {
			s.recorder.Record(ctx, "", audit.ActionFailedRefresh, rc, nil)
			return session.Grant{}, ErrUnauthorized
		}
		s.recorder.Record(ctx, "", audit.ActionFailedRefresh, rc, failureDetails(err))
		return session.Grant{}, fmt.Errorf("auth: refresh: %w", err)
	}
	s.recorder.Record(ctx, grant.UserID, audit.ActionRefresh, rc, map[string]any{"rotated": grant.Rotated})
	return grant, nil
}

// Authenticate verifies signature, expiry and revocation of an access token.
// Every rejection is ErrUnauthorized; store failures are returned wrapped.
func (s *Service) Authenticate(ctx context.Context, raw string) (Principal, error) {
	tok, claims, err := s.issuer.Parse(raw, token.TypeAccess)
	if err != nil {
		return Principal{}, ErrUnauthorized
	}
	revoked, err := s.blacklist.IsRevoked(ctx, tok.ID)
	if err != nil {
		return Principal{}, fmt.Errorf("auth: authenticate: %w", err)
	}
	if revoked {
		return Principal{}, ErrUnauthorized
	}
	return Principal{
		UserID:    tok.Subject,
		Email:     claims.Email,
		Username:  claims.Username,
		SessionID: tok.SessionID,
		TokenID:   tok.ID,
		ExpiresAt: tok.ExpiresAt,
		Token:     raw,
	}, nil
}

// Me loads the durable user behind p.
func (s *Service) Me(ctx context.Context, p Principal) (*users.User, error) {
	u, err := s.users.Find(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("auth: load user: %w", err)
	}
	return u, nil
}

// revoke blacklists the presented access token, if it still verifies, and
// ends the session or refresh token named by creds. It returns the user id
// the access token belonged to, if known.
func (s *Service) revoke(ctx context.Context, accessRaw string, creds session.Credentials) (string, error) {
	var userID string
	if strings.TrimSpace(accessRaw) != "" {
		if tok, _, err := s.issuer.Parse(accessRaw, token.TypeAccess); err == nil {
			userID = tok.Subject
			if creds.SessionID == "" {
				creds.SessionID = tok.SessionID
			}
			if err := s.blacklist.RevokeUntil(ctx, tok.ID, tok.ExpiresAt); err != nil {
				return userID, err
			}
		}
	}
	if err := s.strategy.Revoke(ctx, creds); err != nil {
		return userID, err
	}
	return userID, nil
}

// Logout revokes whatever the caller presented. It succeeds when nothing was
// left to revoke; only store failures are reported.
func (s *Service) Logout(ctx context.Context, accessRaw string, creds session.Credentials, rc audit.RequestContext) error {
	userID, err := s.revoke(ctx, accessRaw, creds)
	if err != nil {
		obs.Logger().ErrorContext(ctx, "logout revocation failed", "error", err.Error())
		s.recorder.Record(ctx, userID, audit.ActionLogout, rc, failureDetails(err))
		return fmt.Errorf("auth: logout: %w", err)
	}
	s.recorder.Record(ctx, userID, audit.ActionLogout, rc, nil)
	return nil
}

// DeleteAccount removes the durable user after re-checking the password, then
// revokes the caller's tokens as logout does.
func (s *Service) DeleteAccount(ctx context.Context, p Principal, password string, creds session.Credentials, rc audit.RequestContext) error {
	u, err := s.Me(ctx, p)
	if err != nil {
		return err
	}
	if password == "" || users.VerifyPassword(u.PasswordHash, password) != nil {
		return ErrInvalidCredentials
	}
	if err := s.users.Delete(ctx, u.ID); err != nil && !errors.Is(err, users.ErrNotFound) {
		return fmt.Errorf("auth: delete account: %w", err)
	}
	s.recorder.Record(ctx, u.ID, audit.ActionAccountDeleted, rc, nil)
	if _, err := s.revoke(ctx, p.Token, creds); err != nil {
		obs.Logger().ErrorContext(ctx, "account deletion revocation failed", "user_id", u.ID, "error", err.Error())
		return fmt.Errorf("auth: delete account: revoke: %w", err)
	}
	return nil
}
