package config

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cached wraps a Provider with a per-tenant TTL cache so the engine does
// not hit the configuration registry on every ledger operation. Entries
// refresh lazily after the TTL elapses.
type Cached struct {
	inner Provider
	cache *gocache.Cache
}

// NewCached builds a caching Provider with the given TTL.
func NewCached(inner Provider, ttl time.Duration) *Cached {
	return &Cached{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Resolve implements Provider.
func (c *Cached) Resolve(ctx context.Context, tenantID string) (*Settings, error) {
	if v, ok := c.cache.Get(tenantID); ok {
		return v.(*Settings), nil
	}

	s, err := c.inner.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	c.cache.SetDefault(tenantID, s)
	return s, nil
}

// Invalidate drops a tenant's cached entry, forcing the next Resolve to
// hit the underlying provider.
func (c *Cached) Invalidate(tenantID string) {
	c.cache.Delete(tenantID)
}
