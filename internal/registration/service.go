package registration

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"booky.app/internal/audit"
	bookymail "booky.app/internal/mail"
	"booky.app/internal/obs"
	"booky.app/internal/ratelimit"
	"booky.app/internal/users"
)

const minPasswordLength = 8

// RateLimitedError carries the wait before the identity may try again.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("registration: too many requests, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error { return ratelimit.ErrLimited }

// Request is the first signup step.
type Request struct {
	Email    string
	Password string
	Profile  Profile
}

// Service runs the signup flow: rate limit, ledger, confirmation email.
type Service struct {
	ledger    *Ledger
	limiter   *ratelimit.Limiter
	mailer    bookymail.Dispatcher
	recorder  *audit.Recorder
	verifyURL string
}

// NewService wires the signup flow. verifyURL is the link base the
// confirmation token is appended to.
func NewService(ledger *Ledger, limiter *ratelimit.Limiter, mailer bookymail.Dispatcher, recorder *audit.Recorder, verifyURL string) *Service {
	return &Service{ledger: ledger, limiter: limiter, mailer: mailer, recorder: recorder, verifyURL: verifyURL}
}

func (s *Service) throttle(ctx context.Context, email string) error {
	ok, err := s.limiter.Allow(ctx, email)
	if err != nil {
		return err
	}
	if !ok {
		obs.RateLimited("registration")
		return &RateLimitedError{RetryAfter: s.limiter.RetryAfter(ctx, email)}
	}
	return nil
}

func validateRequest(req Request) (string, error) {
	email := users.NormalizeEmail(req.Email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if len(req.Password) < minPasswordLength {
		return "", fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	return email, nil
}

// Register starts a signup and emails the confirmation link. If the email
// cannot be sent the pending entry is removed again so a retry starts clean.
// The returned token is for in-process callers; it is never sent to the
// client except through the email.
func (s *Service) Register(ctx context.Context, req Request, rc audit.RequestContext) (string, error) {
	email, err := validateRequest(req)
	if err != nil {
		return "", err
	}
	if err := s.throttle(ctx, email); err != nil {
		return "", err
	}
	hash, err := users.HashPassword(req.Password)
	if err != nil {
		return "", fmt.Errorf("registration: hash password: %w", err)
	}
	token, err := s.ledger.Begin(ctx, email, hash, req.Profile)
	if err != nil {
		return "", err
	}
	if err := s.mailer.Send(ctx, s.confirmation(email, token)); err != nil {
		if derr := s.ledger.Discard(ctx, token); derr != nil {
			obs.Logger().ErrorContext(ctx, "pending registration rollback failed", "error", derr.Error())
		}
		return "", err
	}
	s.recorder.Record(ctx, "", audit.ActionRegister, rc, map[string]any{"email": email})
	return token, nil
}

// Resend re-sends the confirmation link for the live pending entry of email.
// Unknown or already verified addresses succeed silently so the endpoint
// cannot be used to probe for signups.
func (s *Service) Resend(ctx context.Context, email string) error {
	email = users.NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if err := s.throttle(ctx, email); err != nil {
		return err
	}
	token, p, err := s.ledger.Find(ctx, email)
	if errors.Is(err, ErrExpiredOrUnknownToken) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.EmailVerified {
		return nil
	}
	return s.mailer.Send(ctx, s.confirmation(email, token))
}

// Verify confirms the email behind token.
func (s *Service) Verify(ctx context.Context, token string, rc audit.RequestContext) (alreadyVerified bool, err error) {
	already, err := s.ledger.Confirm(ctx, token)
	if err != nil {
		return false, err
	}
	if !already {
		s.recorder.Record(ctx, "", audit.ActionEmailVerified, rc, nil)
	}
	return already, nil
}

// Complete creates the durable user from a verified entry.
func (s *Service) Complete(ctx context.Context, token string, profile Profile, rc audit.RequestContext) (*users.User, error) {
	profile.Username = strings.TrimSpace(profile.Username)
	u, err := s.ledger.Complete(ctx, token, profile)
	if err != nil {
		return nil, err
	}
	s.recorder.Record(ctx, u.ID, audit.ActionRegistrationCompleted, rc, nil)
	return u, nil
}

func (s *Service) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	return s.ledger.UsernameAvailable(ctx, username)
}

func (s *Service) confirmation(email, token string) bookymail.Message {
	link := s.verifyURL + url.QueryEscape(token)
	ttl := s.ledger.TTL().Round(time.Minute)
	return bookymail.Message{
		To:      email,
		Subject: "Confirm your booky account",
		TextBody: fmt.Sprintf("Welcome to booky!\n\nConfirm your email address within %s:\n%s\n\n"+
			"If you did not sign up, ignore this message.\n", ttl, link),
		HTMLBody: fmt.Sprintf(`<p>Welcome to booky!</p><p>Confirm your email address within %s:</p>`+
			`<p><a href="%s">Confirm email</a></p><p>If you did not sign up, ignore this message.</p>`,
			ttl, html.EscapeString(link)),
	}
}
