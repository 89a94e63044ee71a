package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ DeliveryCache = (*RedisCache)(nil)

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type deliveredValue struct {
	MessageID   int64     `json:"messageId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

func key(entryID string) string {
	return "contact:entry:" + entryID
}

func (c *RedisCache) MarkDelivered(ctx context.Context, entryID string, messageID int64, deliveredAt time.Time) error {
	b, err := json.Marshal(deliveredValue{
		MessageID:   messageID,
		DeliveredAt: deliveredAt.UTC(),
	})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key(entryID), b, c.ttl).Err()
}

func (c *RedisCache) Delivered(ctx context.Context, entryID string) (bool, error) {
	err := c.rdb.Get(ctx, key(entryID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
