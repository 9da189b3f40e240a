package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/eupholio/costbasis/internal/model"
)

// MemoryCache implements Cache in process. Used when no Redis URL is
// configured and in tests.
type MemoryCache struct {
	c *gocache.Cache
}

// NewMemoryCache creates a cache whose entries live for ttl. Expired entries
// are purged every 2*ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{c: gocache.New(ttl, 2*ttl)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (*model.Report, error) {
	v, found := m.c.Get(key)
	if !found {
		return nil, ErrMiss
	}
	r, ok := v.(*model.Report)
	if !ok {
		return nil, ErrMiss
	}
	// Hand out a copy to avoid external mutation.
	return r.Clone(), nil
}

func (m *MemoryCache) Set(_ context.Context, key string, r *model.Report) error {
	m.c.Set(key, r.Clone(), gocache.DefaultExpiration)
	return nil
}

// Len returns the number of cached reports, expired ones included until
// the next purge.
func (m *MemoryCache) Len() int {
	return m.c.ItemCount()
}
