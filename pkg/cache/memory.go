package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const defaultMemoryTTL = 24 * time.Hour

type MemoryOption func(*MemoryCache)

// WithMemoryMaxSize bounds the number of keys; the least recently used key
// is evicted first.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryCache) {
		if size > 0 {
			c.maxSize = size
		}
	}
}

type memoryEntry struct {
	key      string
	value    []byte
	expireAt time.Time
}

// MemoryCache is an LRU cache with per-key expiry. Expired keys are dropped
// lazily on access and when they reach the LRU tail.
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List // front is most recently used
	items   map[string]*list.Element
	now     func() time.Time
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		maxSize: 1000,
		order:   list.New(),
		items:   make(map[string]*list.Element),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Service = (*MemoryCache)(nil)

func (c *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, data, ttl)
	return nil
}

func (c *MemoryCache) put(key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}
	expireAt := c.now().Add(ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*memoryEntry)
		e.value, e.expireAt = data, expireAt
		c.order.MoveToFront(el)
		return
	}
	for c.order.Len() >= c.maxSize {
		c.remove(c.order.Back())
	}
	c.items[key] = c.order.PushFront(&memoryEntry{key: key, value: data, expireAt: expireAt})
}

// live returns the entry for key unless it is absent or expired.
func (c *MemoryCache) live(key string) (*list.Element, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.now().After(el.Value.(*memoryEntry).expireAt) {
		c.remove(el)
		return nil, false
	}
	return el, true
}

func (c *MemoryCache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*memoryEntry).key)
}

func (c *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	el, ok := c.live(key)
	var data []byte
	if ok {
		c.order.MoveToFront(el)
		data = el.Value.(*memoryEntry).value
	}
	c.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return decode(data, dest)
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if el, ok := c.items[key]; ok {
			c.remove(el)
		}
	}
	return nil
}

func (c *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.live(key); held {
		return false, nil
	}
	c.put(key, []byte("locked"), ttl)
	return true, nil
}

func (c *MemoryCache) Unlock(ctx context.Context, key string) error {
	return c.Delete(ctx, key)
}

// Len reports the number of stored keys, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) Close() error { return nil }
