// Package registration implements staged signup: an ephemeral pending entry
// keyed by a one-time confirmation token, email verification, and a single
// commit point that turns a verified entry into a durable user.
package registration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"booky.app/internal/ids"
	"booky.app/internal/kvstore"
	"booky.app/internal/obs"
	"booky.app/internal/users"
)

var (
	ErrDuplicateEmail        = errors.New("registration: email already registered")
	ErrExpiredOrUnknownToken = errors.New("registration: confirmation token expired or unknown")
	ErrNotVerified           = errors.New("registration: email not verified")
	ErrInvalidInput          = errors.New("registration: invalid input")
)

// Profile carries the optional fields collected across signup steps.
type Profile struct {
	Username        string  `json:"username,omitempty"`
	FirstName       string  `json:"first_name,omitempty"`
	LastName        string  `json:"last_name,omitempty"`
	Gender          string  `json:"gender,omitempty"`
	WeeklyReadTime  *int    `json:"weekly_read_time,omitempty"`
	YearlyReadCount *int    `json:"yearly_read_count,omitempty"`
	CategoryIDs     []int64 `json:"category_ids,omitempty"`
}

// merge overlays non-empty fields of next onto p.
func (p Profile) merge(next Profile) Profile {
	if next.Username != "" {
		p.Username = next.Username
	}
	if next.FirstName != "" {
		p.FirstName = next.FirstName
	}
	if next.LastName != "" {
		p.LastName = next.LastName
	}
	if next.Gender != "" {
		p.Gender = next.Gender
	}
	if next.WeeklyReadTime != nil {
		p.WeeklyReadTime = next.WeeklyReadTime
	}
	if next.YearlyReadCount != nil {
		p.YearlyReadCount = next.YearlyReadCount
	}
	if len(next.CategoryIDs) > 0 {
		p.CategoryIDs = next.CategoryIDs
	}
	return p
}

// Pending is the value stored under pending_user:<token>. The password is
// held only as a bcrypt hash.
type Pending struct {
	Email         string    `json:"email"`
	PasswordHash  string    `json:"password_hash"`
	Profile       Profile   `json:"profile"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

// Ledger owns the pending_user namespace.
type Ledger struct {
	store    kvstore.Store
	users    users.Directory
	ttl      time.Duration
	now      func() time.Time
	newToken func() (string, error)
}

// NewLedger builds a ledger whose entries live for ttl.
func NewLedger(store kvstore.Store, dir users.Directory, ttl time.Duration) *Ledger {
	return &Ledger{store: store, users: dir, ttl: ttl, now: time.Now, newToken: ids.Opaque}
}

// WithClock overrides time source (useful for tests).
func (l *Ledger) WithClock(fn func() time.Time) *Ledger {
	if fn != nil {
		l.now = fn
	}
	return l
}

// TTL is the configured pending-entry lifetime.
func (l *Ledger) TTL() time.Duration { return l.ttl }

func key(token string) string {
	return kvstore.Key(kvstore.PendingPrefix, token)
}

func (l *Ledger) emailRegistered(ctx context.Context, email string) (bool, error) {
	_, err := l.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, users.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("registration: user lookup: %w", err)
	}
}

func (l *Ledger) write(ctx context.Context, token string, p Pending, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("registration: encode: %w", err)
	}
	if err := l.store.Set(ctx, key(token), raw, ttl); err != nil {
		return fmt.Errorf("registration: write: %w", err)
	}
	return nil
}

func (l *Ledger) read(ctx context.Context, token string) (Pending, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Pending{}, ErrExpiredOrUnknownToken
	}
	raw, err := l.store.Get(ctx, key(token))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return Pending{}, ErrExpiredOrUnknownToken
		}
		return Pending{}, fmt.Errorf("registration: read: %w", err)
	}
	var p Pending
	if err := json.Unmarshal(raw, &p); err != nil {
		return Pending{}, ErrExpiredOrUnknownToken
	}
	return p, nil
}

// Find returns the live pending entry for email, if any.
func (l *Ledger) Find(ctx context.Context, email string) (string, Pending, error) {
	email = users.NormalizeEmail(email)
	keys, err := l.store.Scan(ctx, kvstore.PendingPrefix)
	if err != nil {
		return "", Pending{}, fmt.Errorf("registration: scan: %w", err)
	}
	for _, k := range keys {
		token := strings.TrimPrefix(k, kvstore.PendingPrefix)
		p, err := l.read(ctx, token)
		if errors.Is(err, ErrExpiredOrUnknownToken) {
			continue
		}
		if err != nil {
			return "", Pending{}, err
		}
		if p.Email == email {
			return token, p, nil
		}
	}
	return "", Pending{}, ErrExpiredOrUnknownToken
}

// supersede deletes every pending entry for email.
func (l *Ledger) supersede(ctx context.Context, email string) error {
	for {
		token, _, err := l.Find(ctx, email)
		if errors.Is(err, ErrExpiredOrUnknownToken) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := l.store.Delete(ctx, key(token)); err != nil {
			return fmt.Errorf("registration: supersede: %w", err)
		}
	}
}

// Begin writes a new pending entry and returns its confirmation token. Any
// earlier entry for the same email stops working.
func (l *Ledger) Begin(ctx context.Context, email, passwordHash string, profile Profile) (string, error) {
	email = users.NormalizeEmail(email)
	if email == "" || passwordHash == "" {
		return "", ErrInvalidInput
	}
	exists, err := l.emailRegistered(ctx, email)
	if err != nil {
		return "", err
	}
	if exists {
		return "", ErrDuplicateEmail
	}
	if err := l.supersede(ctx, email); err != nil {
		return "", err
	}
	token, err := l.newToken()
	if err != nil {
		return "", err
	}
	p := Pending{Email: email, PasswordHash: passwordHash, Profile: profile, CreatedAt: l.now().UTC()}
	if err := l.write(ctx, token, p, l.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Confirm marks the entry verified and restarts its TTL. Confirming an
// already verified entry succeeds without touching it and reports true.
func (l *Ledger) Confirm(ctx context.Context, token string) (alreadyVerified bool, err error) {
	p, err := l.read(ctx, token)
	if err != nil {
		return false, err
	}
	if p.EmailVerified {
		return true, nil
	}
	p.EmailVerified = true
	if err := l.write(ctx, token, p, l.ttl); err != nil {
		return false, err
	}
	return false, nil
}

// Discard removes an entry. Missing entries are ignored.
func (l *Ledger) Discard(ctx context.Context, token string) error {
	if _, err := l.store.Delete(ctx, key(token)); err != nil {
		return fmt.Errorf("registration: discard: %w", err)
	}
	return nil
}

// Complete turns a verified entry into a durable user. Deleting the entry is
// the commit point: of any number of concurrent calls for one token, only the
// caller whose delete removed it goes on to create the user.
func (l *Ledger) Complete(ctx context.Context, token string, profile Profile) (*users.User, error) {
	p, err := l.read(ctx, token)
	if err != nil {
		return nil, err
	}
	if !p.EmailVerified {
		return nil, ErrNotVerified
	}
	merged := p.Profile.merge(profile)
	if err := validateCompletion(merged); err != nil {
		return nil, err
	}
	remaining, err := l.store.TTL(ctx, key(token))
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("registration: ttl: %w", err)
	}
	n, err := l.store.Delete(ctx, key(token))
	if err != nil {
		return nil, fmt.Errorf("registration: commit: %w", err)
	}
	if n == 0 {
		return nil, ErrExpiredOrUnknownToken
	}

	// Re-check at commit time: another signup for this email may have
	// completed while this entry was pending.
	exists, err := l.emailRegistered(ctx, p.Email)
	if err != nil {
		l.restore(ctx, token, p, remaining)
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateEmail
	}

	u := &users.User{
		ID:              ids.New(),
		Email:           p.Email,
		PasswordHash:    p.PasswordHash,
		Username:        merged.Username,
		FirstName:       merged.FirstName,
		LastName:        merged.LastName,
		Gender:          merged.Gender,
		WeeklyReadTime:  merged.WeeklyReadTime,
		YearlyReadCount: merged.YearlyReadCount,
		CategoryIDs:     merged.CategoryIDs,
		IsActive:        true,
		CreatedAt:       l.now().UTC(),
	}
	if err := l.users.Create(ctx, u); err != nil {
		if errors.Is(err, users.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		l.restore(ctx, token, p, remaining)
		if errors.Is(err, users.ErrUnknownCategory) {
			return nil, fmt.Errorf("%w: unknown category", ErrInvalidInput)
		}
		return nil, fmt.Errorf("registration: create user: %w", err)
	}
	return u, nil
}

// restore puts back an entry removed at commit when the durable write failed
// for an infrastructure reason, so the same link can be retried.
func (l *Ledger) restore(ctx context.Context, token string, p Pending, remaining time.Duration) {
	if remaining <= 0 {
		remaining = l.ttl
	}
	if err := l.write(ctx, token, p, remaining); err != nil {
		obs.Logger().ErrorContext(ctx, "pending registration restore failed", "error", err.Error())
	}
}

const (
	minUsername = 2
	maxUsername = 20
)

func validateCompletion(p Profile) error {
	n := len([]rune(strings.TrimSpace(p.Username)))
	if n < minUsername || n > maxUsername {
		return fmt.Errorf("%w: username must be %d to %d characters", ErrInvalidInput, minUsername, maxUsername)
	}
	if len(p.CategoryIDs) == 0 {
		return fmt.Errorf("%w: select at least one category", ErrInvalidInput)
	}
	return nil
}

// UsernameAvailable reports whether username passes the length rule and is
// not held by an existing account. Pending signups do not reserve a name.
func (l *Ledger) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	username = strings.TrimSpace(username)
	n := len([]rune(username))
	if n < minUsername || n > maxUsername {
		return false, fmt.Errorf("%w: username must be %d to %d characters", ErrInvalidInput, minUsername, maxUsername)
	}
	taken, err := l.users.UsernameTaken(ctx, username)
	if err != nil {
		return false, fmt.Errorf("registration: username lookup: %w", err)
	}
	return !taken, nil
}
