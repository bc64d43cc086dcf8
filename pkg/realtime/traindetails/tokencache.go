package traindetails

import (
	"context"
	"sync"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// TokenCache holds the page token between lookups
type TokenCache interface {
	Get(ctx context.Context) (string, bool)
	Set(ctx context.Context, token string)
	Invalidate(ctx context.Context)
}

// MemoryTokenCache keeps the token in process
type MemoryTokenCache struct {
	TTL time.Duration
	Now func() time.Time

	mutex   sync.RWMutex
	token   string
	expires time.Time
}

func NewMemoryTokenCache(ttl time.Duration) *MemoryTokenCache {
	return &MemoryTokenCache{
		TTL: ttl,
		Now: time.Now,
	}
}

func (m *MemoryTokenCache) Get(ctx context.Context) (string, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.token == "" || !m.Now().Before(m.expires) {
		return "", false
	}

	return m.token, true
}

func (m *MemoryTokenCache) Set(ctx context.Context, token string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.token = token
	m.expires = m.Now().Add(m.TTL)
}

func (m *MemoryTokenCache) Invalidate(ctx context.Context) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.token = ""
	m.expires = time.Time{}
}

const redisTokenKey = "livetrains:portalpasazera:pid"

// RedisTokenCache shares the token between instances through redis
type RedisTokenCache struct {
	Cache *cache.Cache[string]
}

func NewRedisTokenCache(client *redis.Client, ttl time.Duration) *RedisTokenCache {
	redisStore := redisstore.NewRedis(client, store.WithExpiration(ttl))

	return &RedisTokenCache{
		Cache: cache.New[string](redisStore),
	}
}

func (r *RedisTokenCache) Get(ctx context.Context) (string, bool) {
	token, err := r.Cache.Get(ctx, redisTokenKey)
	if err != nil || token == "" {
		return "", false
	}

	return token, true
}

func (r *RedisTokenCache) Set(ctx context.Context, token string) {
	if err := r.Cache.Set(ctx, redisTokenKey, token); err != nil {
		log.Error().Err(err).Msg("Failed to cache page token")
	}
}

func (r *RedisTokenCache) Invalidate(ctx context.Context) {
	if err := r.Cache.Delete(ctx, redisTokenKey); err != nil {
		log.Error().Err(err).Msg("Failed to invalidate page token")
	}
}
