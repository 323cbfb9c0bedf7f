package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-client/internal/geo"
	"github.com/example/driver-client/internal/models"
)

// Route is the subset of a routing engine answer the client cares about.
type Route struct {
	DistanceMeters  float64
	DurationSeconds float64
}

// Client is the remote distance lookup.
type Client interface {
	DistanceMeters(ctx context.Context, from, to models.Coord) (float64, error)
}

// DistanceCache stores distances keyed by coordinate pair.
type DistanceCache interface {
	Get(ctx context.Context, a, b models.Coord) (float64, bool)
	Set(ctx context.Context, a, b models.Coord, v float64)
}

// Cache is a tiny in-memory cache for distance lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

// Keys use the same lon,lat order as the OSRM path.
func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.5f,%.5f", c.Lng, c.Lat)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(_ context.Context, a, b models.Coord) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(_ context.Context, a, b models.Coord, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// Estimate is a distance answer. Estimated is set when the remote service
// failed and the value is the straight-line distance.
type Estimate struct {
	Meters    float64
	Estimated bool
}

// CachedService resolves distances through the cache, then the remote
// client, then the straight-line fallback.
type CachedService struct {
	Remote Client
	Cache  DistanceCache
	Logger *slog.Logger
}

func (s *CachedService) Distance(ctx context.Context, from, to models.Coord) (Estimate, error) {
	if s.Cache != nil {
		if v, ok := s.Cache.Get(ctx, from, to); ok {
			return Estimate{Meters: v}, nil
		}
	}
	if s.Remote != nil {
		v, err := s.Remote.DistanceMeters(ctx, from, to)
		if err == nil {
			if s.Cache != nil {
				s.Cache.Set(ctx, from, to, v)
			}
			return Estimate{Meters: v}, nil
		}
		if ctx.Err() != nil {
			return Estimate{}, ctx.Err()
		}
		if s.Logger != nil {
			s.Logger.Warn("distance lookup failed, using straight line", "error", err)
		}
	}
	return Estimate{Meters: geo.Distance(from, to), Estimated: true}, nil
}
