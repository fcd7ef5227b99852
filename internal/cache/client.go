package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/slotter-org/roomchat-backend/internal/config"
	"github.com/slotter-org/roomchat-backend/internal/logger"
)

// NewRedisClient connects and pings Redis. Callers decide whether a failure
// is fatal.
func NewRedisClient(cfg config.RedisConfig, log *logger.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	log.Info("Connected to Redis :)", "address", cfg.Address, "db", cfg.DB)
	return rdb, nil
}
