package cache

import (
	"context"
	"encoding/json"
	"time"

	"clarify/internal/logger"

	"github.com/redis/go-redis/v9"
)

// Redis stores JSON encoded values in Redis with a per-key expiry.
// Failures degrade to cache misses.
type Redis[V any] struct {
	rdb *redis.Client
	log *logger.Logger
}

func NewRedis[V any](rdb *redis.Client, log *logger.Logger) *Redis[V] {
	return &Redis[V]{rdb: rdb, log: log.With("service", "RedisCache")}
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return zero, false
	}
	if err != nil {
		r.log.Warn("cache get failed", "key", key, "error", err)
		return zero, false
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		r.log.Warn("cache entry undecodable", "key", key, "error", err)
		return zero, false
	}
	return v, true
}

func (r *Redis[V]) Set(ctx context.Context, key string, v V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		r.log.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := r.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		r.log.Warn("cache set failed", "key", key, "error", err)
	}
}

func (r *Redis[V]) Invalidate(ctx context.Context, key string) {
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		r.log.Warn("cache invalidate failed", "key", key, "error", err)
	}
}
