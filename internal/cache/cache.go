package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-proxy-service/internal/models"
)

// Cache is an optional front layer over the record store, keyed by normalized city.
// Get returns false, nil on miss. Callers still check the record's ObservedAt
// against the freshness cutoff; the TTL only bounds memory.
type Cache interface {
	Get(ctx context.Context, key string) (models.WeatherRecord, bool, error)
	Set(ctx context.Context, key string, value models.WeatherRecord, ttl time.Duration) error
}

// Pinger is implemented by networked backends for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	_ Pinger = (*MemcachedCache)(nil)
	_ Pinger = (*RedisCache)(nil)
)

// InMemoryCache implements Cache using a map with TTL-based expiration.
// Expired entries are removed on access. Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     models.WeatherRecord
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get retrieves the record for key if present and not expired.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.WeatherRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.WeatherRecord{}, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.WeatherRecord{}, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return models.WeatherRecord{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores the record with the given TTL, replacing any previous entry.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.WeatherRecord, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	c.mu.Unlock()
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
