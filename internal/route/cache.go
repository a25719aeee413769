package route

import (
	"strings"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/example/pet-ride/internal/models"
)

// Cache is a tiny in-memory cache for route lookups keyed by waypoints.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  models.Route
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

// keyFor buckets each waypoint to a ~1m geohash cell.
func keyFor(pts []models.Coord) string {
	parts := make([]string, len(pts))
	for i, p := range pts {
		parts[i] = geohash.EncodeWithPrecision(p.Lat, p.Lng, 9)
	}
	return strings.Join(parts, ">")
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(pts []models.Coord) (models.Route, bool) {
	k := keyFor(pts)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return models.Route{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return models.Route{}, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(pts []models.Coord, v models.Route) {
	k := keyFor(pts)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}
