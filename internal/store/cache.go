package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type cachedProject struct {
	project   Project
	expiresAt time.Time
}

// CachedProjects is a read-through TTL cache in front of a ProjectStore.
// Project records sit on the hot path of every request (budget admission
// reads limits); a short TTL keeps that off the backing store while
// bounding staleness after a limit change.
//
// It is safe for concurrent use. Expired entries are dropped lazily on
// access, so no cleanup goroutine is needed for the handful of projects a
// single gateway serves.
type CachedProjects struct {
	inner ProjectStore
	ttl   time.Duration

	mu    sync.RWMutex
	items map[uuid.UUID]cachedProject
}

func NewCachedProjects(inner ProjectStore, ttl time.Duration) *CachedProjects {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedProjects{
		inner: inner,
		ttl:   ttl,
		items: make(map[uuid.UUID]cachedProject),
	}
}

func (c *CachedProjects) Project(ctx context.Context, id uuid.UUID) (*Project, error) {
	c.mu.RLock()
	item, ok := c.items[id]
	c.mu.RUnlock()

	if ok && time.Now().Before(item.expiresAt) {
		p := item.project
		return &p, nil
	}

	p, err := c.inner.Project(ctx, id)
	if err != nil {
		// Misses are not negative-cached; an absent project stays a
		// store round-trip until it is created.
		return nil, err
	}

	c.mu.Lock()
	c.items[id] = cachedProject{project: *p, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return p, nil
}

// SaveProject writes through and invalidates so the next read sees the
// updated limits immediately.
func (c *CachedProjects) SaveProject(ctx context.Context, p *Project) error {
	if err := c.inner.SaveProject(ctx, p); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.items, p.ID)
	c.mu.Unlock()
	return nil
}
