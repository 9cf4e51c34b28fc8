package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"

	"github.com/ledgerguard/ledgerguard/config"
	redis_db "github.com/ledgerguard/ledgerguard/internal/redis-db"
)

// Cache is the read-through layer in front of the hot datasource reads.
// A miss is not an error: Get leaves data untouched and returns nil, so
// callers decide whether the zero value means "go to the database".
//
// Keys share the redis instance with the transfer guard locks; cache
// keys use the entity prefix (account:<number>) and lock keys live under
// lock:, so the two can never collide.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, data interface{}) error
	Delete(ctx context.Context, key string) error
}

func NewCache() (Cache, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return newRedisCache([]string{cfg.Redis.Dns})
}

// localEntries bounds the in-process TinyLFU tier. Account entries are
// tiny, so this comfortably covers the hot set of a single node.
const localEntries = 128000

type RedisCache struct {
	cache *cache.Cache
}

func newRedisCache(addresses []string) (*RedisCache, error) {
	client, err := redis_db.NewRedisClient(addresses)
	if err != nil {
		return nil, err
	}

	return &RedisCache{cache: cache.New(&cache.Options{
		Redis:      client.Client(),
		LocalCache: cache.NewTinyLFU(localEntries, time.Minute),
	})}, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: data,
		TTL:   ttl,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	err := r.cache.Get(ctx, key, &data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}

// Delete evicts from both the local tier and redis. Used on the writes
// that must not serve a stale read afterwards, like a status flip.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
