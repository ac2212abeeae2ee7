package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T, now *time.Time) *Issuer {
	t.Helper()
	iss, err := NewIssuer("test-secret",
		WithIssuer("booky-test"),
		WithAccessTTL(15*time.Minute),
		WithRefreshTTL(24*time.Hour),
		WithClock(func() time.Time { return *now }),
	)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return iss
}

func TestIssueAndParseAccess(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	iss := newTestIssuer(t, &now)

	tok, err := iss.IssueAccess(Subject{UserID: "u-1", Email: "alice@example.com", Username: "alice"}, "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if tok.ID == "" || tok.Type != TypeAccess {
		t.Fatalf("unexpected token metadata: %+v", tok)
	}
	if !tok.ExpiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", tok.ExpiresAt)
	}

	parsed, claims, err := iss.Parse(tok.Raw, TypeAccess)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.ID != tok.ID || parsed.Subject != "u-1" {
		t.Fatalf("parsed token mismatch: %+v", parsed)
	}
	if claims.Email != "alice@example.com" || claims.Username != "alice" || claims.Issuer != "booky-test" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseRejectsWrongType(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	iss := newTestIssuer(t, &now)

	refresh, err := iss.IssueRefresh(Subject{UserID: "u-1"}, "sid-1")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, _, err := iss.Parse(refresh.Raw, TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token accepted as access: %v", err)
	}
	parsed, _, err := iss.Parse(refresh.Raw, TypeRefresh)
	if err != nil {
		t.Fatalf("Parse refresh: %v", err)
	}
	if parsed.SessionID != "sid-1" {
		t.Fatalf("expected sid claim, got %q", parsed.SessionID)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	iss := newTestIssuer(t, &now)

	tok, err := iss.IssueAccess(Subject{UserID: "u-1"}, "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	now = now.Add(16 * time.Minute)
	if _, _, err := iss.Parse(tok.Raw, TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
	if tok.Remaining(now) != 0 {
		t.Fatalf("remaining must clamp at zero")
	}
}

func TestParseRejectsTamperedAndForeign(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	iss := newTestIssuer(t, &now)

	tok, err := iss.IssueAccess(Subject{UserID: "u-1"}, "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	parts := strings.Split(tok.Raw, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, _, err := iss.Parse(tampered, TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token accepted: %v", err)
	}

	other, err := NewIssuer("other-secret", WithIssuer("booky-test"), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	foreign, err := other.IssueAccess(Subject{UserID: "u-1"}, "")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, _, err := iss.Parse(foreign.Raw, TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token signed with another secret accepted: %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{TokenType: TypeAccess})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, _, err := iss.Parse(unsigned, TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unsigned token accepted: %v", err)
	}

	if _, _, err := iss.Parse("", TypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token accepted: %v", err)
	}
}

func TestTokensCarryDistinctIDs(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	iss := newTestIssuer(t, &now)
	a, _ := iss.IssueRefresh(Subject{UserID: "u-1"}, "s")
	b, _ := iss.IssueRefresh(Subject{UserID: "u-1"}, "s")
	if a.ID == b.ID {
		t.Fatalf("jti must be unique per token")
	}
}

func TestNewIssuerValidation(t *testing.T) {
	if _, err := NewIssuer(" "); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := NewIssuer("s", WithAccessTTL(time.Hour), WithRefreshTTL(time.Minute)); err == nil {
		t.Fatalf("expected error when access ttl exceeds refresh ttl")
	}
	if _, err := NewIssuer("s", WithAccessTTL(0)); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}
