package geolookup

import (
	"context"
	"sync"
	"time"

	"github.com/Iliess-A/Mobicoop-api/internal/models"
)

// MemoryCache is a small in-process resolve cache used when no Redis is
// configured.
type MemoryCache struct {
	mu    sync.RWMutex
	store map[string]memoryEntry
	next  Resolver
	ttl   time.Duration
}

type memoryEntry struct {
	addr models.Address
	ts   time.Time
}

func NewMemoryCache(next Resolver, ttl time.Duration) *MemoryCache {
	return &MemoryCache{store: make(map[string]memoryEntry), next: next, ttl: ttl}
}

func (m *MemoryCache) Resolve(ctx context.Context, lat, lon float64) (*models.Address, error) {
	key := cacheKey(lat, lon)
	m.mu.RLock()
	e, ok := m.store[key]
	m.mu.RUnlock()
	if ok && time.Since(e.ts) <= m.ttl {
		addr := e.addr
		addr.Latitude = lat
		addr.Longitude = lon
		return &addr, nil
	}
	addr, err := m.next.Resolve(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.store[key] = memoryEntry{addr: *addr, ts: time.Now()}
	m.mu.Unlock()
	return addr, nil
}
