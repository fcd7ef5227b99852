package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/slotter-org/roomchat-backend/internal/logger"
)

// RedisQueue is a Redis list used as a FIFO: producers LPUSH, workers BRPOP.
// Any number of API and worker processes may share it.
type RedisQueue struct {
	log    *logger.Logger
	client *redis.Client
	key    string
	block  time.Duration
	mu     sync.Mutex
	closed bool
}

func NewRedisQueue(client *redis.Client, key string, log *logger.Logger) *RedisQueue {
	return &RedisQueue{
		log:    log.With("component", "RedisQueue", "queue", key),
		client: client,
		key:    key,
		block:  2 * time.Second,
	}
}

func (rq *RedisQueue) isClosed() bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.closed
}

func (rq *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if rq.isClosed() {
		return ErrQueueClosed
	}
	if err := job.Validate(); err != nil {
		return err
	}
	payload, err := encodeJob(job)
	if err != nil {
		rq.log.Warn("failed to encode job for redis", "error", err)
		return err
	}
	if err := rq.client.LPush(ctx, rq.key, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush failed: %w", err)
	}
	return nil
}

func (rq *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		if rq.isClosed() {
			return Job{}, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		res, err := rq.client.BRPop(ctx, rq.block, rq.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Job{}, ctxErr
			}
			return Job{}, fmt.Errorf("redis brpop failed: %w", err)
		}
		// res is [key, value]
		if len(res) != 2 {
			rq.log.Warn("Unexpected BRPOP reply", "reply", res)
			continue
		}
		job, err := decodeJob(res[1])
		if err != nil {
			rq.log.Warn("Dropping undecodable job", "error", err)
			continue
		}
		return job, nil
	}
}

func (rq *RedisQueue) Close() error {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	rq.closed = true
	return nil
}
