package roomlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/metrics"
)

// Deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a lease-based lock shared by every instance pointing at the
// same Redis. The lease must outlive one exchange (provider timeout plus the
// two writes).
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	log    *logger.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: "roomchat:lock:room:",
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		log:    log.With("component", "RedisLocker"),
	}
}

func (l *RedisLocker) key(roomID uuid.UUID) string {
	return l.prefix + roomID.String()
}

func (l *RedisLocker) Lock(ctx context.Context, roomID uuid.UUID) (func(), error) {
	start := time.Now()
	key := l.key(roomID)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquire room lock %s: %w", roomID, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
	metrics.RoomLockWait.Observe(time.Since(start).Seconds())

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// Release must happen even when the request context is gone.
		relCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		n, err := releaseScript.Run(relCtx, l.client, []string{key}, token).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.log.Warn("Failed to release room lock", "roomID", roomID, "error", err)
			return
		}
		if n == 0 {
			l.log.Warn("Room lock lease expired before release", "roomID", roomID)
		}
	}, nil
}
