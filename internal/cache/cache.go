// Package cache is a staleness-tolerant key/value layer. It is an optimization
// only: every caller must stay correct when the cache is empty.
package cache

import (
	"context"
	"strings"
	"time"
)

type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, v V, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
}

// Key joins a schema version tag and key parts into one cache key.
func Key(version string, parts ...string) string {
	return "clarify:" + version + ":" + strings.Join(parts, ":")
}

// ReadThrough returns the cached value for key or loads, stores and returns it.
// A load error is returned as is; nothing is cached in that case.
func ReadThrough[V any](ctx context.Context, c Cache[V], key string, ttl time.Duration, load func(context.Context) (V, error)) (V, error) {
	if c != nil {
		if v, ok := c.Get(ctx, key); ok {
			return v, nil
		}
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if c != nil {
		c.Set(ctx, key, v, ttl)
	}
	return v, nil
}
