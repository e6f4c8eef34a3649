package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clarify/internal/logger"
	"clarify/models"

	"github.com/redis/go-redis/v9"
)

// Stream relays notifications through one Redis stream per user, so any
// instance holding the user's socket can deliver them.
type Stream struct {
	rdb    *redis.Client
	maxLen int64
	log    *logger.Logger
}

func NewStream(rdb *redis.Client, log *logger.Logger) *Stream {
	return &Stream{rdb: rdb, maxLen: 500, log: log.With("service", "NotificationStream")}
}

func streamKey(userID string) string {
	return fmt.Sprintf("clarify:notifications:%s", userID)
}

// Notify appends n to the user's stream.
func (s *Stream) Notify(ctx context.Context, n models.Notification) error {
	if s == nil || s.rdb == nil {
		return fmt.Errorf("Redis client not available")
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(n.UserID),
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
}

// Subscribe delivers notifications appended to userID's stream after the call
// until ctx ends or deliver returns an error.
func (s *Stream) Subscribe(ctx context.Context, userID string, deliver func(models.Notification) error) error {
	if s == nil || s.rdb == nil {
		return fmt.Errorf("Redis client not available")
	}
	key := streamKey(userID)
	lastID := "$"
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		streams, err := s.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, lastID},
			Count:   50,
			Block:   5 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("stream read failed", "user", userID, "error", err)
			time.Sleep(time.Second)
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				raw, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}
				var n models.Notification
				if err := json.Unmarshal([]byte(raw), &n); err != nil {
					s.log.Warn("dropping malformed notification", "id", msg.ID, "error", err)
					continue
				}
				if err := deliver(n); err != nil {
					return err
				}
			}
		}
	}
}
