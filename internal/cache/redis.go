package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/redress/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisAddr = "localhost:6379"
	redisKeyPrefix   = "redress"
)

// RedisCache stores envelopes in Redis under redress:<tenant>:<key>.
// It is the pro tier cache and the L2 of TwoPhaseCache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and pings it once.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = defaultRedisAddr
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisCacheFromClient(client), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the stored bytes, or nil when the key is absent.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	k, err := redisKey(tenantID, key)
	if err != nil {
		return nil, err
	}
	val, err := c.client.Get(ctx, k).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis get %s: %w", k, err)
	}
	return val, nil
}

// Set stores value with a TTL. A non-positive ttl is a no-op.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	k, err := redisKey(tenantID, key)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, k, value, ttl).Err()
}

// Delete removes one key.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	k, err := redisKey(tenantID, key)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, k).Err()
}

// GetResult returns a cached envelope, or nil on a miss.
func (c *RedisCache) GetResult(ctx context.Context, tenantID string, key string) (*domain.CalculationResult, error) {
	return getResult(ctx, c, tenantID, key)
}

// SetResult caches an envelope.
func (c *RedisCache) SetResult(ctx context.Context, tenantID string, key string, result *domain.CalculationResult, ttl time.Duration) error {
	return setResult(ctx, c, tenantID, key, result, ttl)
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func redisKey(tenantID, key string) (string, error) {
	if tenantID == "" {
		return "", errTenantRequired
	}
	return redisKeyPrefix + ":" + tenantID + ":" + key, nil
}
