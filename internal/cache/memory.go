package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string]map[string]memoryEntry
	gens map[string]uint64
	now  func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		data: make(map[string]map[string]memoryEntry),
		gens: make(map[string]uint64),
		now:  time.Now,
	}
}

// Get decodes a cached value into dst.
func (c *MemoryCache) Get(_ context.Context, namespace, name string, dst any) (bool, error) {
	c.mu.Lock()
	entry, ok := c.data[namespace][name]
	if ok && !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.data[namespace], name)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dst); err != nil {
		return false, fmt.Errorf("decode cached %s/%s: %w", namespace, name, err)
	}
	return true, nil
}

// Set stores value. A non-positive ttl never expires.
func (c *MemoryCache) Set(_ context.Context, namespace, name string, value any, ttl time.Duration) error {
	entry, err := c.entry(namespace, name, value, ttl)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(namespace, name, entry)
	return nil
}

// SetIfGeneration stores value while namespace is still at gen.
func (c *MemoryCache) SetIfGeneration(_ context.Context, namespace, name string, value any, ttl time.Duration, gen uint64) (bool, error) {
	entry, err := c.entry(namespace, name, value, ttl)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[namespace] != gen {
		return false, nil
	}
	c.putLocked(namespace, name, entry)
	return true, nil
}

// Generation returns the invalidation count of namespace.
func (c *MemoryCache) Generation(_ context.Context, namespace string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[namespace], nil
}

func (c *MemoryCache) entry(namespace, name string, value any, ttl time.Duration) (memoryEntry, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return memoryEntry{}, fmt.Errorf("encode cached %s/%s: %w", namespace, name, err)
	}
	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	return entry, nil
}

func (c *MemoryCache) putLocked(namespace, name string, entry memoryEntry) {
	ns, ok := c.data[namespace]
	if !ok {
		ns = make(map[string]memoryEntry)
		c.data[namespace] = ns
	}
	ns[name] = entry
}

// Invalidate drops the namespaces.
func (c *MemoryCache) Invalidate(_ context.Context, namespaces ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ns := range namespaces {
		delete(c.data, ns)
		c.gens[ns]++
	}
	return nil
}

// Verify interface compliance at compile time.
var _ Cache = (*MemoryCache)(nil)
