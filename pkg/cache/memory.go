package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryCache is an in-process Cache used by tests and single-node development.
// Values go through JSON so callers observe the same round-trip as with Redis.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// WithClock replaces the time source, letting tests expire keys deterministically.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

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

func (c *MemoryCache) expiry(expiration time.Duration) time.Time {
	if expiration <= 0 {
		return time.Time{}
	}
	return c.now().Add(expiration)
}

func (c *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	item, ok := c.lookup(key)
	c.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(item.data, dest)
}

func (c *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = memoryItem{data: data, expiresAt: c.expiry(expiration)}
	return nil
}

func (c *MemoryCache) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	c.items[key] = memoryItem{data: data, expiresAt: c.expiry(expiration)}
	return true, nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.items, key)
	}
	return nil
}

func (c *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lookup(key)
	return ok, nil
}

func (c *MemoryCache) Increment(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.lookup(key)
	var n int64
	if ok {
		parsed, err := strconv.ParseInt(string(item.data), 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++
	c.items[key] = memoryItem{data: []byte(strconv.FormatInt(n, 10)), expiresAt: item.expiresAt}
	return n, nil
}

func (c *MemoryCache) IncrementByFloat(_ context.Context, key string, value float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.lookup(key)
	var f float64
	if ok {
		parsed, err := strconv.ParseFloat(string(item.data), 64)
		if err != nil {
			return 0, err
		}
		f = parsed
	}
	f += value
	c.items[key] = memoryItem{data: []byte(strconv.FormatFloat(f, 'f', -1, 64)), expiresAt: item.expiresAt}
	return f, nil
}

func (c *MemoryCache) Expire(_ context.Context, key string, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.lookup(key)
	if !ok {
		return nil
	}
	item.expiresAt = c.expiry(expiration)
	c.items[key] = item
	return nil
}

func (c *MemoryCache) TTL(_ context.Context, key string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.lookup(key)
	if !ok {
		return -2, nil
	}
	if item.expiresAt.IsZero() {
		return -1, nil
	}
	return item.expiresAt.Sub(c.now()), nil
}
