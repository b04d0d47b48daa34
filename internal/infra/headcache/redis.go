// Package headcache caches chain head cursors beside the durable store.
package headcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"custodia/internal/domain"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: client, ttl: ttl}, nil
}

func headKey(runID string) string {
	return "custodia:head:" + runID
}

// GetHead returns nil on a miss. Decode failures are treated as a miss so a
// stale or truncated entry never poisons the chain cursor.
func (c *RedisCache) GetHead(ctx context.Context, runID string) (*domain.ChainHead, error) {
	raw, err := c.client.Get(ctx, headKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var head domain.ChainHead
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, nil
	}
	return &head, nil
}

func (c *RedisCache) SetHead(ctx context.Context, head domain.ChainHead) error {
	raw, err := json.Marshal(head)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, headKey(head.RunID), raw, c.ttl).Err()
}
