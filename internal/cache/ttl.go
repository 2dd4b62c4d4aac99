package cache

import (
	"context"
	"sync"
	"time"

	"formapi/internal/models"
)

type entry[V any] struct {
	value      V
	expiryTime time.Time
}

// TTL is a process-wide map with per-entry expiry. Concurrent writers to the
// same key are last-writer-wins.
type TTL[V any] struct {
	mutex sync.RWMutex
	items map[string]entry[V]
	now   func() time.Time
}

type Option[V any] func(*TTL[V])

// WithClock replaces time.Now, for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *TTL[V]) {
		c.now = now
	}
}

func NewTTL[V any](opts ...Option[V]) *TTL[V] {
	c := &TTL[V]{
		items: make(map[string]entry[V]),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key if present and not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mutex.RLock()
	e, found := c.items[key]
	c.mutex.RUnlock()

	if found && c.now().Before(e.expiryTime) {
		return e.value, true
	}

	var zero V
	return zero, false
}

// Set stores value for ttl. A non-positive ttl stores nothing.
func (c *TTL[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mutex.Lock()
	c.items[key] = entry[V]{value: value, expiryTime: c.now().Add(ttl)}
	c.mutex.Unlock()
}

func (c *TTL[V]) Delete(key string) {
	c.mutex.Lock()
	delete(c.items, key)
	c.mutex.Unlock()
}

// Purge removes expired entries and returns how many were dropped.
func (c *TTL[V]) Purge() int {
	now := c.now()
	removed := 0
	c.mutex.Lock()
	for key, e := range c.items {
		if !now.Before(e.expiryTime) {
			delete(c.items, key)
			removed++
		}
	}
	c.mutex.Unlock()
	return removed
}

func (c *TTL[V]) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.items)
}

// Projects is the in-memory fallback cache of synthetic project descriptors.
type Projects struct {
	items *TTL[models.Project]
}

func NewProjects(opts ...Option[models.Project]) *Projects {
	return &Projects{items: NewTTL(opts...)}
}

func (p *Projects) GetProject(_ context.Context, id string) (*models.Project, bool, error) {
	project, ok := p.items.Get(id)
	if !ok {
		return nil, false, nil
	}
	return &project, true, nil
}

func (p *Projects) SetProject(_ context.Context, project *models.Project, ttl time.Duration) error {
	p.items.Set(project.ID, *project, ttl)
	return nil
}

// Janitor purges expired entries every interval until ctx is done.
func (p *Projects) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.items.Purge()
		}
	}
}
