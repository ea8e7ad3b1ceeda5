package geolookup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Iliess-A/Mobicoop-api/internal/models"
)

// RedisCache caches resolved addresses in Redis, keyed by rounded
// coordinates. Certification fixes cluster around the same pickup and
// dropoff points, so the hit rate is high and the geocoder stays off the
// hot path.
type RedisCache struct {
	client *redis.Client
	next   Resolver
	ttl    time.Duration
}

func NewRedisCache(addr, password string, next Resolver, ttl time.Duration) *RedisCache {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisCache{client: c, next: next, ttl: ttl}
}

func (r *RedisCache) Resolve(ctx context.Context, lat, lon float64) (*models.Address, error) {
	key := cacheKey(lat, lon)
	if b, err := r.client.Get(ctx, key).Bytes(); err == nil {
		var addr models.Address
		if err := json.Unmarshal(b, &addr); err == nil {
			// keep the exact fix, not the rounded cache key position
			addr.Latitude = lat
			addr.Longitude = lon
			return &addr, nil
		}
	}
	addr, err := r.next.Resolve(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(addr); err == nil {
		_ = r.client.Set(ctx, key, b, r.ttl).Err()
	}
	return addr, nil
}

func (r *RedisCache) Close() error { return r.client.Close() }

// cacheKey rounds to ~1m precision; fixes closer than that share an address.
func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("geolookup:%.5f,%.5f", lat, lon)
}
