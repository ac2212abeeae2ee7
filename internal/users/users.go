// Package users is the durable user directory consulted by registration and
// login: lookup, create, delete and a credential check.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound           = errors.New("users: not found")
	ErrDuplicateEmail     = errors.New("users: email already registered")
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	ErrUnknownCategory    = errors.New("users: unknown category")
)

// User is a durable account.
type User struct {
	ID              string
	Email           string
	PasswordHash    string
	Username        string
	FirstName       string
	LastName        string
	Gender          string
	WeeklyReadTime  *int
	YearlyReadCount *int
	CategoryIDs     []int64
	IsActive        bool
	CreatedAt       time.Time
}

// Directory is the persistence contract.
type Directory interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	// Create fails with ErrDuplicateEmail when the email is already present.
	Create(ctx context.Context, u *User) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// NormalizeEmail lowercases and trims an address so lookups are stable.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// dummyHash keeps unknown-email lookups as slow as wrong-password ones.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("booky-timing-equaliser"), bcrypt.DefaultCost)

// VerifyCredentials returns the active user matching email and password.
// Unknown email, wrong password and inactive account all yield
// ErrInvalidCredentials; lookup failures are returned as-is.
func VerifyCredentials(ctx context.Context, dir Directory, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := dir.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}
