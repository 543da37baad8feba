package tenant

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// SettingsReader is the read surface consumed by the engines.
type SettingsReader interface {
	Get(ctx context.Context, tenantID string) (Settings, error)
}

// Cache is a read-through settings cache. Concurrent misses for the same
// tenant are collapsed into one repository read.
type Cache struct {
	reader SettingsReader
	ttl    time.Duration
	group  singleflight.Group

	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	settings Settings
	expires  time.Time
}

// NewCache wraps reader with a TTL cache.
func NewCache(reader SettingsReader, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{reader: reader, ttl: ttl, entries: make(map[string]cacheEntry), now: time.Now}
}

// Get implements SettingsReader.
func (c *Cache) Get(ctx context.Context, tenantID string) (Settings, error) {
	c.mu.RLock()
	entry, ok := c.entries[tenantID]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		return entry.settings, nil
	}

	v, err, _ := c.group.Do(tenantID, func() (interface{}, error) {
		settings, err := c.reader.Get(ctx, tenantID)
		if err != nil {
			return Settings{}, err
		}
		c.mu.Lock()
		c.entries[tenantID] = cacheEntry{settings: settings, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return settings, nil
	})
	if err != nil {
		return Settings{}, err
	}
	return v.(Settings), nil
}

// Invalidate drops the cached entry for a tenant.
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
}

var _ SettingsReader = (*Cache)(nil)
