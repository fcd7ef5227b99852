package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/slotter-org/roomchat-backend/internal/config"
	"github.com/slotter-org/roomchat-backend/internal/logger"
)

func TestKeys(t *testing.T) {
	id := uuid.MustParse("6f1c2a4e-0000-4000-8000-000000000001")
	if got := RoomKey(id); got != "room:6f1c2a4e-0000-4000-8000-000000000001" {
		t.Errorf("RoomKey = %q", got)
	}
	if got := RoomMessagesKey(id); got != "room:6f1c2a4e-0000-4000-8000-000000000001:messages" {
		t.Errorf("RoomMessagesKey = %q", got)
	}
}

func TestNoopCacheAlwaysMisses(t *testing.T) {
	c := NewNoopCache()
	ctx := context.Background()
	c.Set(ctx, RoomsListKey, []string{"a"})
	var out []string
	if c.Get(ctx, RoomsListKey, &out) {
		t.Fatal("noop cache reported a hit")
	}
	c.Delete(ctx, RoomsListKey)
}

// Runs only when REDIS_TEST_ADDRESS points at a disposable Redis.
func TestRedisCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDRESS not set")
	}
	client, err := NewRedisClient(config.RedisConfig{Address: addr}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer client.Close()

	c := NewRedisCache(client, time.Minute, logger.NewNop())
	ctx := context.Background()
	key := RoomKey(uuid.New())

	c.Set(ctx, key, map[string]int{"count": 3})
	var got map[string]int
	if !c.Get(ctx, key, &got) || got["count"] != 3 {
		t.Fatalf("Get after Set = %v", got)
	}
	c.Delete(ctx, key)
	if c.Get(ctx, key, &got) {
		t.Fatal("expected miss after Delete")
	}
}
