package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/slotter-org/roomchat-backend/internal/cache"
	"github.com/slotter-org/roomchat-backend/internal/config"
	"github.com/slotter-org/roomchat-backend/internal/db"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/repos"
	"github.com/slotter-org/roomchat-backend/internal/roomlock"
	"github.com/slotter-org/roomchat-backend/internal/seed"
	"github.com/slotter-org/roomchat-backend/internal/services"
	"github.com/slotter-org/roomchat-backend/internal/tasks"
)

// lockMargin is added to the AI timeout for the Redis room lock TTL.
const lockMargin = 15 * time.Second

type app struct {
	cfg    *config.Config
	log    *logger.Logger
	store  *db.DatabaseService
	redis  *redis.Client
	queue  tasks.Queue
	bucket services.BucketService

	userRepo repos.UserRepo
	roomRepo repos.RoomRepo

	authService     services.AuthService
	roomService     services.RoomService
	exchangeService services.ExchangeService
}

// newApp loads config and wires every dependency. Close releases them.
func newApp(ctx context.Context) (*app, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	log, err := logger.New(config.LogMode())
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	cfg, err := config.Load(log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	// Database Setup
	log.Info("Setting Up Database from Main now...", "type", cfg.Database.Type)
	a.store, err = db.NewDatabaseService(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := a.store.AutoMigrateAll(); err != nil {
			a.Close()
			return nil, err
		}
	} else {
		log.Info("DB_AUTO_MIGRATE is off, skipping AutoMigrateAll")
	}
	gdb := a.store.DB()
	log.Info("Database Setup From Main Successful :)")

	// Redis Setup
	roomCache := cache.NewNoopCache()
	if cfg.Redis.Address != "" {
		a.redis, err = cache.NewRedisClient(cfg.Redis, log)
		if err != nil {
			if cfg.QueueBackend == config.QueueRedis || cfg.RoomLock == config.LockRedis {
				a.Close()
				return nil, err
			}
			log.Warn("Redis unavailable, running without cache", "error", err)
		} else {
			roomCache = cache.NewRedisCache(a.redis, cfg.Redis.CacheTTL, log)
		}
	}

	var locker roomlock.Locker = roomlock.NewLocalLocker()
	if cfg.RoomLock == config.LockRedis {
		locker = roomlock.NewRedisLocker(a.redis, cfg.AI.Timeout+lockMargin, log)
	}
	if cfg.QueueBackend == config.QueueRedis {
		a.queue = tasks.NewRedisQueue(a.redis, cfg.QueueName, log)
	} else {
		a.queue = tasks.NewMemoryQueue(256)
	}

	// Repositories Setup
	a.userRepo = repos.NewUserRepo(gdb, log)
	a.roomRepo = repos.NewRoomRepo(gdb, log)
	messageRepo := repos.NewMessageRepo(gdb, log)

	// Services Setup
	log.Info("Setting up Services from Main now...")
	var avatarService services.AvatarService
	if cfg.Storage.Bucket != "" {
		a.bucket, err = services.NewBucketService(ctx, cfg.Storage, log)
		if err != nil {
			log.Warn("Could not init BucketService, avatars and archives disabled", "error", err)
		} else if avatarService, err = services.NewAvatarService(log, a.bucket, cfg.Storage.AvatarSize); err != nil {
			log.Warn("Could not init AvatarService", "error", err)
			avatarService = nil
		}
	}

	a.authService = services.NewAuthService(log, a.userRepo, avatarService, cfg.JWTSecretKey, cfg.AccessTokenTTL)
	a.roomService = services.NewRoomService(gdb, log, a.roomRepo, messageRepo, a.authService, avatarService, a.bucket, roomCache)

	provider := services.NewGenerationProvider(cfg.AI, &http.Client{}, log)
	a.exchangeService = services.NewExchangeService(
		log,
		messageRepo,
		services.NewContextAssembler(messageRepo, cfg.AI.ContextWindow, cfg.AI.SystemPrompt, log),
		services.NewAIResponder(provider, nil, cfg.AI, log),
		a.authService,
		a.roomService,
		locker,
		a.queue,
		roomCache,
		cfg.AI.SystemPrompt,
	)
	log.Info("Services Set Up From Main Successful :)")
	return a, nil
}

func (a *app) newWorker() *tasks.Worker {
	return tasks.NewWorker(a.queue, a.exchangeService.CompleteExchange, a.cfg.WorkerCount, a.log)
}

// seedRooms runs the rooms seed when SEED_ROOMS_JSON_PATH is set.
func (a *app) seedRooms(ctx context.Context) error {
	if a.cfg.Seed.RoomsPath == "" {
		return nil
	}
	_, err := seed.SyncRooms(ctx, a.store.DB(), a.log, a.userRepo, a.roomRepo, a.cfg.Seed.RoomsPath, a.cfg.Seed.RoomsOwner)
	return err
}

func (a *app) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.bucket != nil {
		a.bucket.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	a.log.Sync()
}
