package users

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"booky.app/internal/ids"
)

var _ Directory = (*Memory)(nil)

// Memory is an in-process Directory for local development and tests.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

func NewMemory() *Memory {
	return &Memory{byID: make(map[string]*User), byEmail: make(map[string]string)}
}

func clone(u *User) *User {
	c := *u
	c.CategoryIDs = slices.Clone(u.CategoryIDs)
	return &c
}

func (m *Memory) Find(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(u), nil
}

func (m *Memory) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m.byID[id]), nil
}

func (m *Memory) UsernameTaken(_ context.Context, username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.byID {
		if strings.EqualFold(u.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) Create(_ context.Context, u *User) error {
	email := NormalizeEmail(u.Email)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[email]; exists {
		return ErrDuplicateEmail
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Email = email
	m.byID[u.ID] = clone(u)
	m.byEmail[email] = u.ID
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byEmail, u.Email)
	delete(m.byID, id)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
