package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/redress/internal/domain"
)

// DefaultLocalTTL caps how long TwoPhaseCache keeps an entry in L1.
const DefaultLocalTTL = 5 * time.Minute

// New builds the cache named by cfg.Type:
//
//	memory            in-process LRU (community)
//	redis             Redis, or LRU in front of Redis when EnableTwoPhase (pro)
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return remote, nil
		}
		return NewTwoPhaseCache(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// RequestKey fingerprints a calculation request. Calculations are
// deterministic, so equal keys always map to equal envelopes.
func RequestKey(req *domain.CalculationRequest) (string, error) {
	// encoding/json sorts map keys, so Fields hashes the same in any order.
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}
	sum := sha256.Sum256(data)
	return "calc:" + hex.EncodeToString(sum[:]), nil
}

type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

func getResult(ctx context.Context, s byteStore, tenantID, key string) (*domain.CalculationResult, error) {
	data, err := s.Get(ctx, tenantID, key)
	if err != nil || data == nil {
		return nil, err
	}
	var result domain.CalculationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached result %s: %w", key, err)
	}
	return &result, nil
}

func setResult(ctx context.Context, s byteStore, tenantID, key string, result *domain.CalculationResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return s.Set(ctx, tenantID, key, data, ttl)
}

// TwoPhaseCache reads through a local LRU (L1) to Redis (L2), which is
// shared by every node.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache layers local over remote. L1 entries live at most l1TTL.
func NewTwoPhaseCache(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = DefaultLocalTTL
	}
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
}

// Get reads L1, then L2. An L2 hit is copied into L1.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, tenantID, key); err != nil || val != nil {
		return val, err
	}

	val, err := c.remote.Get(ctx, tenantID, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	return val, nil
}

// Set writes both levels. L1 never outlives L2.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, min(ttl, c.l1TTL)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes the key from both levels.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetResult returns a cached envelope, or nil on a miss at both levels.
func (c *TwoPhaseCache) GetResult(ctx context.Context, tenantID string, key string) (*domain.CalculationResult, error) {
	return getResult(ctx, c, tenantID, key)
}

// SetResult caches an envelope at both levels.
func (c *TwoPhaseCache) SetResult(ctx context.Context, tenantID string, key string, result *domain.CalculationResult, ttl time.Duration) error {
	return setResult(ctx, c, tenantID, key, result, ttl)
}

// Ping checks Redis. L1 is always up.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close empties L1 and closes the Redis client.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns the L1 snapshot.
func (c *TwoPhaseCache) Stats() LRUStats {
	return c.local.Stats()
}
