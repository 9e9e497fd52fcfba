package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	counter   int64
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	stop    chan struct{}
	once    sync.Once
}

// NewMemory returns an in-process Cache used as the single-node deployment
// mode and in tests. A background sweep evicts expired entries; correctness
// does not depend on it since reads check expiry themselves.
func NewMemory(sweepPeriod time.Duration) Cache {
	c := &memoryCache{
		entries: make(map[string]*memoryEntry),
		stop:    make(chan struct{}),
	}
	go c.sweepLoop(sweepPeriod)
	return c
}

func (c *memoryCache) sweepLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

func (c *memoryCache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
		}
	}
}

func (c *memoryCache) live(key string) *memoryEntry {
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if entry.expired(time.Now()) {
		delete(c.entries, key)
		return nil
	}
	return entry
}

func (c *memoryCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.live(key)
	if entry == nil {
		return "", ErrNotFound
	}
	if entry.value == "" && entry.counter != 0 {
		return strconv.FormatInt(entry.counter, 10), nil
	}
	return entry.value, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := &memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

func (c *memoryCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.live(key)
	if entry == nil {
		entry = &memoryEntry{}
		if ttl > 0 {
			entry.expiresAt = time.Now().Add(ttl)
		}
		c.entries[key] = entry
	}
	entry.counter++
	return entry.counter, nil
}

func (c *memoryCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.live(key)
	if entry == nil {
		return ErrNotFound
	}
	entry.expiresAt = time.Now().Add(ttl)
	return nil
}

func (c *memoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live(key) != nil, nil
}

func (c *memoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memoryCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}
