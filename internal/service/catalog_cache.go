package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/domain/repository"
)

// CatalogCache кэширует карточки услуг каталога с TTL.
// Цена в кэше может отставать от каталога не больше чем на ttl.
type CatalogCache struct {
	next  repository.CatalogReader
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu    sync.RWMutex
	cache map[uuid.UUID]cacheEntry
}

type cacheEntry struct {
	service   entity.ServiceSnapshot
	expiresAt time.Time
}

// NewCatalogCache оборачивает next. При ttl <= 0 кэш выключен и запросы идут напрямую.
func NewCatalogCache(next repository.CatalogReader, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		next:  next,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[uuid.UUID]cacheEntry),
	}
}

var _ repository.CatalogReader = (*CatalogCache)(nil)

func (c *CatalogCache) GetService(ctx context.Context, id uuid.UUID) (*entity.ServiceSnapshot, error) {
	if c.ttl <= 0 {
		return c.next.GetService(ctx, id)
	}
	if svc, ok := c.get(id); ok {
		return svc, nil
	}

	// Параллельные промахи по одной услуге дают один запрос в каталог.
	v, err, _ := c.group.Do(id.String(), func() (interface{}, error) {
		svc, err := c.next.GetService(ctx, id)
		if err != nil {
			return nil, err
		}
		c.set(id, *svc)
		return svc, nil
	})
	if err != nil {
		return nil, err
	}
	svc := *v.(*entity.ServiceSnapshot)
	return &svc, nil
}

// Invalidate удаляет услугу из кэша.
func (c *CatalogCache) Invalidate(id uuid.UUID) {
	c.mu.Lock()
	delete(c.cache, id)
	c.mu.Unlock()
}

// Run периодически удаляет просроченные записи до отмены ctx.
func (c *CatalogCache) Run(ctx context.Context, every time.Duration) {
	if c.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *CatalogCache) get(id uuid.UUID) (*entity.ServiceSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cache[id]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	svc := entry.service
	return &svc, true
}

func (c *CatalogCache) set(id uuid.UUID, svc entity.ServiceSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[id] = cacheEntry{service: svc, expiresAt: c.now().Add(c.ttl)}
}

func (c *CatalogCache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, entry := range c.cache {
		if now.After(entry.expiresAt) {
			delete(c.cache, id)
			removed++
		}
	}
	return removed
}
