// Package cache memoises calculation envelopes per tenant.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opensource-finance/redress/internal/domain"
)

// DefaultLocalSize bounds an LRU cache created with a non-positive size.
const DefaultLocalSize = 10000

var errTenantRequired = errors.New("tenantID is required")

// entryKey scopes a key to its tenant. Two tenants never share an entry.
type entryKey struct {
	tenant string
	key    string
}

type entry struct {
	id        entryKey
	value     []byte
	expiresAt time.Time
}

// LRUStats is a snapshot of an LRU cache.
type LRUStats struct {
	Size      int   `json:"size"`
	Capacity  int   `json:"capacity"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
}

// LRUCache holds envelopes in process memory, least recently used first out.
// It is the community tier cache and the L1 of TwoPhaseCache.
type LRUCache struct {
	mu        sync.Mutex
	capacity  int
	entries   map[entryKey]*list.Element
	recency   *list.List
	now       func() time.Time
	evictions int64
	expired   int64
}

// NewLRUCache creates a cache holding at most capacity entries.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = DefaultLocalSize
	}
	return &LRUCache{
		capacity: capacity,
		entries:  make(map[entryKey]*list.Element),
		recency:  list.New(),
		now:      time.Now,
	}
}

// Get returns the stored bytes, or nil when absent or expired.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[entryKey{tenantID, key}]
	if !ok {
		return nil, nil
	}
	e := elem.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.drop(elem)
		c.expired++
		return nil, nil
	}
	c.recency.MoveToFront(elem)
	return e.value, nil
}

// Set stores value until ttl elapses. A non-positive ttl is a no-op.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return errTenantRequired
	}
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := entryKey{tenantID, key}
	expiresAt := c.now().Add(ttl)
	if elem, ok := c.entries[id]; ok {
		e := elem.Value.(*entry)
		e.value, e.expiresAt = value, expiresAt
		c.recency.MoveToFront(elem)
		return nil
	}

	c.entries[id] = c.recency.PushFront(&entry{id: id, value: value, expiresAt: expiresAt})
	for c.recency.Len() > c.capacity {
		c.drop(c.recency.Back())
		c.evictions++
	}
	return nil
}

// Delete removes one entry.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return errTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[entryKey{tenantID, key}]; ok {
		c.drop(elem)
	}
	return nil
}

// GetResult returns a cached envelope, or nil on a miss.
func (c *LRUCache) GetResult(ctx context.Context, tenantID string, key string) (*domain.CalculationResult, error) {
	return getResult(ctx, c, tenantID, key)
}

// SetResult caches an envelope.
func (c *LRUCache) SetResult(ctx context.Context, tenantID string, key string, result *domain.CalculationResult, ttl time.Duration) error {
	return setResult(ctx, c, tenantID, key, result, ttl)
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close empties the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[entryKey]*list.Element)
	c.recency.Init()
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *LRUCache) Stats() LRUStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return LRUStats{
		Size:      c.recency.Len(),
		Capacity:  c.capacity,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
}

// drop must be called with mu held.
func (c *LRUCache) drop(elem *list.Element) {
	if elem == nil {
		return
	}
	c.recency.Remove(elem)
	delete(c.entries, elem.Value.(*entry).id)
}
