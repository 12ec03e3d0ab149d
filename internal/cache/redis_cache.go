package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ SentCache = (*RedisCache)(nil)

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	RequestID string    `json:"requestId"`
	SentAt    time.Time `json:"sentAt"`
}

func sentKey(correlationID string) string {
	return fmt.Sprintf("sms:%s", correlationID)
}

func (c *RedisCache) StoreSent(ctx context.Context, correlationID, requestID string, sentAt time.Time) error {
	val := sentValue{
		RequestID: requestID,
		SentAt:    sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, sentKey(correlationID), b, c.ttl).Err()
}

func (c *RedisCache) LookupSent(ctx context.Context, correlationID string) (string, bool, error) {
	raw, err := c.rdb.Get(ctx, sentKey(correlationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var val sentValue
	if err := json.Unmarshal(raw, &val); err != nil {
		return "", false, fmt.Errorf("decode cached sent value: %w", err)
	}
	return val.RequestID, val.RequestID != "", nil
}
