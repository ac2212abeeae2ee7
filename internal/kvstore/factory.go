package kvstore

import (
	"context"
	"fmt"
	"time"
)

// Driver identifiers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// Config selects and configures a store backend.
type Config struct {
	Driver  string
	Timeout time.Duration
	Redis   RedisConfig
}

// New creates a Store based on the provided configuration.
func New(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverRedis
	}
	switch driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverRedis:
		return NewRedis(ctx, cfg.Redis, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}
