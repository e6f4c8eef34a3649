package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Window counts calls inside a rolling period.
type Window interface {
	// Snapshot returns how many calls fall inside (now-period, now] and the oldest of them.
	Snapshot(ctx context.Context, now time.Time) (count int, oldest time.Time, err error)
	Record(ctx context.Context, now time.Time) error
	// Prune drops calls that left the window.
	Prune(ctx context.Context, now time.Time) error
}

// MemoryWindow is a process-local rolling window.
type MemoryWindow struct {
	period time.Duration
	mu     sync.Mutex
	calls  []time.Time
}

func NewMemoryWindow(period time.Duration) *MemoryWindow {
	return &MemoryWindow{period: period}
}

func (w *MemoryWindow) Snapshot(_ context.Context, now time.Time) (int, time.Time, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	if len(w.calls) == 0 {
		return 0, time.Time{}, nil
	}
	return len(w.calls), w.calls[0], nil
}

func (w *MemoryWindow) Record(_ context.Context, now time.Time) error {
	w.mu.Lock()
	w.calls = append(w.calls, now)
	w.mu.Unlock()
	return nil
}

func (w *MemoryWindow) Prune(_ context.Context, now time.Time) error {
	w.mu.Lock()
	w.pruneLocked(now)
	w.mu.Unlock()
	return nil
}

func (w *MemoryWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.period)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}

// RedisWindow shares one rolling window between every instance of the service.
// Calls are members of a sorted set scored by their unix milliseconds.
type RedisWindow struct {
	rdb    *redis.Client
	key    string
	period time.Duration
}

func NewRedisWindow(rdb *redis.Client, key string, period time.Duration) *RedisWindow {
	return &RedisWindow{rdb: rdb, key: key, period: period}
}

func (w *RedisWindow) Snapshot(ctx context.Context, now time.Time) (int, time.Time, error) {
	if w == nil || w.rdb == nil {
		return 0, time.Time{}, fmt.Errorf("Redis client not available")
	}
	cutoff := now.Add(-w.period).UnixMilli()

	pipe := w.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, w.key, "-inf", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, w.key)
	first := pipe.ZRangeWithScores(ctx, w.key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, time.Time{}, fmt.Errorf("rate window snapshot: %w", err)
	}

	count := int(card.Val())
	var oldest time.Time
	if zs := first.Val(); len(zs) > 0 {
		oldest = time.UnixMilli(int64(zs[0].Score))
	}
	return count, oldest, nil
}

func (w *RedisWindow) Record(ctx context.Context, now time.Time) error {
	if w == nil || w.rdb == nil {
		return fmt.Errorf("Redis client not available")
	}
	pipe := w.rdb.TxPipeline()
	pipe.ZAdd(ctx, w.key, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
	pipe.PExpire(ctx, w.key, w.period)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rate window record: %w", err)
	}
	return nil
}

func (w *RedisWindow) Prune(ctx context.Context, now time.Time) error {
	if w == nil || w.rdb == nil {
		return fmt.Errorf("Redis client not available")
	}
	cutoff := now.Add(-w.period).UnixMilli()
	return w.rdb.ZRemRangeByScore(ctx, w.key, "-inf", strconv.FormatInt(cutoff, 10)).Err()
}
