package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryCache is the in-process Cache used when REDIS_URL is not set. Expired entries are
// dropped lazily on access.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: time.Now}
}

func (c *MemoryCache) Ping(context.Context) error { return nil }

// Set stores a copy of value. A zero ttl never expires.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	}
	c.items[key] = item
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), item.value...), true, nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// IncrWithExpiry increments the counter at key. A live counter keeps the expiry set by its
// first increment, like the Redis INCR + EXPIRE NX pipeline.
func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	expiresAt := c.now().Add(expiry)
	if item, ok := c.lookup(key); ok {
		parsed, err := strconv.ParseInt(string(item.value), 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
		if !item.expiresAt.IsZero() {
			expiresAt = item.expiresAt
		}
	}
	n++
	c.items[key] = memoryItem{
		value:     []byte(strconv.FormatInt(n, 10)),
		expiresAt: expiresAt,
	}
	return n, nil
}

// lookup must be called with mu held.
func (c *MemoryCache) lookup(key string) (memoryItem, bool) {
	item, ok := c.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if item.expired(c.now()) {
		delete(c.items, key)
		return memoryItem{}, false
	}
	return item, true
}

var _ Cache = (*MemoryCache)(nil)
