package kvstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var _ Store = (*Memory)(nil)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// Memory is an in-process Store used for development and tests. Expired
// entries are dropped lazily on access.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// WithClock overrides the time source (useful for tests).
func (m *Memory) WithClock(fn func() time.Time) *Memory {
	if fn != nil {
		m.now = fn
	}
	return m
}

// lookup must be called with mu held.
func (m *Memory) lookup(key string) (memoryItem, bool) {
	item, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if item.expired(m.now()) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return item, true
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	buf := make([]byte, len(value))
	copy(buf, value)

	m.mu.Lock()
	m.items[key] = memoryItem{value: buf, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := m.lookup(key); ok {
			delete(m.items, key)
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetDel(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.items, key)
	return item.value, nil
}

func (m *Memory) Scan(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.items {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := m.lookup(key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.lookup(key)
	var n int64
	if ok {
		parsed, err := strconv.ParseInt(string(item.value), 10, 64)
		if err != nil {
			// Same classification as the Redis backend gives a non-integer INCR.
			return 0, fmt.Errorf("%w: incr %s: value is not an integer", ErrUnavailable, key)
		}
		n = parsed
	}
	n++
	item.value = []byte(strconv.FormatInt(n, 10))
	m.items[key] = item
	return n, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.lookup(key)
	if !ok {
		return false, nil
	}
	item.expiresAt = m.now().Add(ttl)
	m.items[key] = item
	return true, nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.lookup(key)
	if !ok {
		return 0, ErrNotFound
	}
	if item.expiresAt.IsZero() {
		return 0, nil
	}
	return item.expiresAt.Sub(m.now()), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
