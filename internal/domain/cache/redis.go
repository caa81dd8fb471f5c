package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/resilience"
)

// DefaultPrefix namespaces cache keys in a shared Redis
const DefaultPrefix = "scriptflow:cache:"

// Redis is a Store backed by Redis; values are JSON encoded. Commands go
// through a circuit breaker, so while Redis is down calls fail with
// resilience.ErrCircuitOpen without touching the network.
type Redis struct {
	client  *redis.Client
	breaker *resilience.Breaker
	prefix  string
	ttl     time.Duration
}

// NewRedis connects to the server at url and verifies the connection
func NewRedis(ctx context.Context, url, prefix string, ttl time.Duration) (*Redis, error) {
	if url == "" {
		return nil, fmt.Errorf("redis cache requires a URL")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisWithClient(client, prefix, ttl), nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	breaker := resilience.New("redis-cache", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})
	return &Redis{client: client, breaker: breaker, prefix: prefix, ttl: ttl}
}

// Breaker exposes the circuit breaker guarding the client
func (r *Redis) Breaker() *resilience.Breaker { return r.breaker }

// Get returns a cached value
func (r *Redis) Get(ctx context.Context, key string) (any, bool, error) {
	data, err := resilience.Do(r.breaker, func() ([]byte, error) {
		data, err := r.client.Get(ctx, r.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache entry %s: %w", key, err)
	}
	if data == nil {
		return nil, false, nil
	}

	var value any
	if err := sonic.Unmarshal(data, &value); err != nil {
		return nil, false, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores a value
func (r *Redis) Set(ctx context.Context, key string, value any) error {
	data, err := sonic.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}
	err = r.breaker.Run(func() error {
		return r.client.Set(ctx, r.prefix+key, data, r.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to set cache entry %s: %w", key, err)
	}
	return nil
}

// Clear deletes every key under the prefix
func (r *Redis) Clear(ctx context.Context) error {
	return r.breaker.Run(func() error { return r.clear(ctx) })
}

func (r *Redis) clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()

	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}
	return nil
}

// Close releases the client
func (r *Redis) Close() error {
	return r.client.Close()
}
