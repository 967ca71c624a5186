package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// Redis is a Store backed by a Redis server. All TTL handling is delegated
// to Redis key expiry.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures a Redis store.
type RedisOptions struct {
	URL      string // host:port or a redis:// URL
	Password string
	DB       int
	// KeyPrefix namespaces all keys, e.g. "marvinmcp:".
	KeyPrefix string
}

// NewRedis creates a Redis-backed store and verifies connectivity.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	var ropts *redis.Options
	if u, err := redis.ParseURL(opts.URL); err == nil {
		ropts = u
	} else {
		ropts = &redis.Options{
			Addr:     opts.URL,
			Password: opts.Password,
			DB:       opts.DB,
		}
	}
	ropts.DialTimeout = defaultDialTimeout
	ropts.ReadTimeout = defaultReadTimeout
	ropts.WriteTimeout = defaultWriteTimeout

	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.URL, err)
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "marvinmcp:"
	}
	return &Redis{client: client, prefix: prefix}, nil
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
