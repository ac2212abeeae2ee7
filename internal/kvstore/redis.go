package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTimeout = 2 * time.Second
	scanBatch      = 100
)

var _ Store = (*Redis)(nil)

// Redis implements Store on top of a Redis server.
type Redis struct {
	client *redis.Client
}

// NewRedis dials the configured Redis server and verifies connectivity.
func NewRedis(ctx context.Context, cfg RedisConfig, timeout time.Duration) (*Redis, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("kvstore: redis address required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	s := &Redis{client: client}
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (s *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return wrap(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, wrap(err)
	}
	return raw, nil
}

func (s *Redis) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

func (s *Redis) GetDel(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil {
		return nil, wrap(err)
	}
	return raw, nil
}

func (s *Redis) Scan(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	pattern := prefix + "*"
	for {
		res, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, wrap(err)
		}
		keys = append(keys, res...)
		if next == 0 {
			break
		}
		cursor = next
	}
	return keys, nil
}

func (s *Redis) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

func (s *Redis) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, wrap(err)
	}
	return ok, nil
}

func (s *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, wrap(err)
	}
	// -2: missing key, -1: no expiry attached.
	if d == -2 {
		return 0, ErrNotFound
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (s *Redis) Ping(ctx context.Context) error {
	return wrap(s.client.Ping(ctx).Err())
}

func (s *Redis) Close() error {
	return s.client.Close()
}

func wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
