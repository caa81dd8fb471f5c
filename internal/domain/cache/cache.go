package cache

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Store memoizes values computed by scripts. It is shared by every session of
// the process and emptied by the clear_cache command.
type Store interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any) error
	Clear(ctx context.Context) error
}

// Config selects and configures a backend
type Config struct {
	Backend  string // "memory" or "redis"
	RedisURL string
	Prefix   string
	TTL      time.Duration
}

// New creates the configured backend
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.TTL), nil
	case "redis":
		return NewRedis(ctx, cfg.RedisURL, cfg.Prefix, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Memory is an in-process Store backed by go-cache
type Memory struct {
	items *gocache.Cache
}

// NewMemory creates an in-memory store. A zero ttl never expires entries.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		return &Memory{items: gocache.New(gocache.NoExpiration, 0)}
	}
	return &Memory{items: gocache.New(ttl, ttl)}
}

// Get returns a cached value. Expired entries are misses.
func (m *Memory) Get(_ context.Context, key string) (any, bool, error) {
	v, ok := m.items.Get(key)
	return v, ok, nil
}

// Set stores a value with the store's ttl
func (m *Memory) Set(_ context.Context, key string, value any) error {
	m.items.SetDefault(key, value)
	return nil
}

// Clear drops every entry
func (m *Memory) Clear(context.Context) error {
	m.items.Flush()
	return nil
}
