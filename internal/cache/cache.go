package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/metrics"
)

const RoomsListKey = "rooms_list"

func RoomKey(roomID uuid.UUID) string {
	return fmt.Sprintf("room:%s", roomID)
}

func RoomMessagesKey(roomID uuid.UUID) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

// Cache is a best-effort JSON cache. Failures are logged and reported as
// misses; they never fail the caller.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{})
	Delete(ctx context.Context, keys ...string)
}

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, log *logger.Logger) Cache {
	return &redisCache{client: client, ttl: ttl, log: log.With("component", "RedisCache")}
}

func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return false
	}
	if err != nil {
		c.log.Warn("Cache get failed", "key", key, "error", err)
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.log.Warn("Cache entry undecodable, dropping it", "key", key, "error", err)
		c.Delete(ctx, key)
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return true
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("Cache set encode failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("Cache set failed", "key", key, "error", err)
	}
}

func (c *redisCache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("Cache delete failed", "keys", keys, "error", err)
	}
}

type noopCache struct{}

// NewNoopCache is used when Redis is not configured.
func NewNoopCache() Cache { return noopCache{} }

func (noopCache) Get(context.Context, string, interface{}) bool { return false }
func (noopCache) Set(context.Context, string, interface{})      {}
func (noopCache) Delete(context.Context, ...string)             {}
