// Package token mints and verifies the signed access and refresh credentials
// handed to clients. The algorithm (HS256) and claim names are part of the
// contract with every verifier; changing them invalidates outstanding tokens.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"

	defaultIssuer     = "booky"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// ErrInvalidToken covers every verification failure: bad signature, wrong
// type, expiry, malformed input. Callers must not distinguish further.
var ErrInvalidToken = errors.New("token: invalid token")

// Claims is the JWT payload shared by access and refresh tokens.
type Claims struct {
	TokenType string `json:"token_type"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Subject identifies the user a token is minted for.
type Subject struct {
	UserID   string
	Email    string
	Username string
}

// Token is a signed credential plus the metadata callers need for
// revocation bookkeeping.
type Token struct {
	Raw       string
	ID        string
	Type      string
	Subject   string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Remaining returns the lifetime left at now, never negative.
func (t Token) Remaining(now time.Time) time.Duration {
	if d := t.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Issuer signs and verifies tokens with a server-held HMAC secret.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	newID      func() string
}

// Option configures Issuer behaviour.
type Option func(*Issuer) error

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) Option {
	return func(i *Issuer) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			i.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(i *Issuer) error {
		if ttl <= 0 {
			return errors.New("token: access ttl must be greater than zero")
		}
		i.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(i *Issuer) error {
		if ttl <= 0 {
			return errors.New("token: refresh ttl must be greater than zero")
		}
		i.refreshTTL = ttl
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) error {
		if fn != nil {
			i.now = fn
		}
		return nil
	}
}

// NewIssuer constructs an Issuer. The secret is required.
func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token: secret is required")
	}
	i := &Issuer{
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	if i.accessTTL >= i.refreshTTL {
		return nil, errors.New("token: access ttl must be shorter than refresh ttl")
	}
	return i, nil
}

func (i *Issuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// Now exposes the issuer's clock so revocation math uses the same time source.
func (i *Issuer) Now() time.Time { return i.now() }

// IssueAccess mints a short-lived access token.
func (i *Issuer) IssueAccess(sub Subject, sessionID string) (Token, error) {
	return i.issue(TypeAccess, i.accessTTL, sub, sessionID)
}

// IssueRefresh mints a long-lived refresh token.
func (i *Issuer) IssueRefresh(sub Subject, sessionID string) (Token, error) {
	return i.issue(TypeRefresh, i.refreshTTL, sub, sessionID)
}

func (i *Issuer) issue(typ string, ttl time.Duration, sub Subject, sessionID string) (Token, error) {
	userID := strings.TrimSpace(sub.UserID)
	if userID == "" {
		return Token{}, errors.New("token: user id is required")
	}
	// JWT NumericDate has second precision; truncate so the returned metadata
	// matches what a verifier will read back.
	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	jti := i.newID()
	claims := Claims{
		TokenType: typ,
		Email:     sub.Email,
		Username:  sub.Username,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("token: sign: %w", err)
	}
	return Token{
		Raw:       signed,
		ID:        jti,
		Type:      typ,
		Subject:   userID,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Parse verifies signature, issuer, expiry and token type. It does not
// consult the blacklist.
func (i *Issuer) Parse(raw, wantType string) (Token, *Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Token{}, nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return Token{}, nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Token{}, nil, ErrInvalidToken
	}
	if claims.TokenType != wantType || strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return Token{}, nil, ErrInvalidToken
	}
	tok := Token{
		Raw:       raw,
		ID:        claims.ID,
		Type:      claims.TokenType,
		Subject:   claims.Subject,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		tok.IssuedAt = claims.IssuedAt.Time
	}
	return tok, claims, nil
}
