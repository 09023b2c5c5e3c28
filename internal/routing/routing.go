// Package routing is the external routing oracle: given two points it
// returns a road distance and a display polyline. Fare never depends on it;
// fares use the haversine distance so they stay deterministic when the
// oracle is down.
package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/models"
)

// Route is the oracle's answer.
type Route struct {
	DistanceKm float64
	Polyline   string
}

// Oracle resolves a route between two coordinates.
type Oracle interface {
	Route(ctx context.Context, from, to models.Coord) (Route, error)
}

// Fallback answers with the great-circle distance and no polyline.
// It never fails.
type Fallback struct{}

func (Fallback) Route(ctx context.Context, from, to models.Coord) (Route, error) {
	return Route{DistanceKm: geo.DistanceKm(from, to)}, nil
}

// Cache memoizes oracle answers per coordinate pair with a TTL.
type Cache struct {
	mu    sync.RWMutex
	inner Oracle
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	r  Route
	ts time.Time
}

func NewCache(inner Oracle, ttl time.Duration) *Cache {
	return &Cache{inner: inner, store: make(map[string]cacheEntry), ttl: ttl}
}

func (c *Cache) Route(ctx context.Context, from, to models.Coord) (Route, error) {
	k := keyFor(from, to)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if ok && time.Since(e.ts) <= c.ttl {
		return e.r, nil
	}
	r, err := c.inner.Route(ctx, from, to)
	if err != nil {
		return Route{}, err
	}
	c.mu.Lock()
	c.store[k] = cacheEntry{r: r, ts: time.Now()}
	c.mu.Unlock()
	return r, nil
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}
