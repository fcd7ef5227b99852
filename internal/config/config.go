package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/utils"
)

const (
	ExchangeModeSync  = "sync"
	ExchangeModeAsync = "async"

	QueueMemory = "memory"
	QueueRedis  = "redis"

	LockLocal = "local"
	LockRedis = "redis"

	ProviderGemini   = "gemini"
	ProviderDeepseek = "deepseek"
)

type DatabaseConfig struct {
	Type     string // postgres | sqlite
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	DSN      string // used as-is when set (sqlite file path, or full postgres DSN)

	AutoMigrate bool
}

type AIConfig struct {
	Provider         string // gemini | deepseek
	APIURL           string
	APIKey           string
	Model            string
	SystemPrompt     string
	Temperature      float64
	MaxOutputTokens  int
	Timeout          time.Duration
	FallbackText     string
	ContextWindow    int
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	CacheTTL time.Duration
}

type StorageConfig struct {
	Bucket          string
	CredentialsFile string
	PublicBaseURL   string
	AvatarSize      int
}

type SeedConfig struct {
	RoomsPath  string
	RoomsOwner string
}

type Config struct {
	AppName        string
	Version        string
	Port           string
	LogMode        string
	AllowedOrigins []string

	JWTSecretKey   string
	AccessTokenTTL time.Duration

	ExchangeMode string
	QueueBackend string
	QueueName    string
	WorkerCount  int
	RoomLock     string

	Database DatabaseConfig
	AI       AIConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Seed     SeedConfig
}

// LoadDotEnv reads an optional .env file into the process environment.
// A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// LogMode is read on its own since the logger is built before Load runs.
func LogMode() string {
	return utils.GetEnv("LOG_MODE", "development", nil)
}

// Load builds the Config from the environment. It is called once at startup;
// everything downstream receives the struct.
func Load(log *logger.Logger) (*Config, error) {
	log.Info("Attempting to load environment variables for Config now...")
	cfg := &Config{
		AppName:        utils.GetEnv("APP_NAME", "Chat API", log),
		Version:        utils.GetEnv("APP_VERSION", "1.0.0", log),
		Port:           utils.GetEnv("PORT", "8000", log),
		LogMode:        LogMode(),
		AllowedOrigins: splitList(utils.GetEnv("ALLOWED_ORIGINS", "*", log)),

		JWTSecretKey:   utils.GetEnv("JWT_SECRET_KEY", "", log),
		AccessTokenTTL: time.Duration(utils.GetEnvAsInt("ACCESS_TOKEN_TTL", 86400, log)) * time.Second,

		ExchangeMode: utils.GetEnv("EXCHANGE_MODE", ExchangeModeSync, log),
		QueueBackend: utils.GetEnv("QUEUE_BACKEND", QueueMemory, log),
		QueueName:    utils.GetEnv("QUEUE_NAME", "roomchat:exchange_jobs", log),
		WorkerCount:  utils.GetEnvAsInt("WORKER_COUNT", 2, log),
		RoomLock:     utils.GetEnv("ROOM_LOCK", LockLocal, log),

		Database: DatabaseConfig{
			Type:     utils.GetEnv("DB_TYPE", "postgres", log),
			Host:     utils.GetEnv("POSTGRES_HOST", "localhost", log),
			Port:     utils.GetEnv("POSTGRES_PORT", "5432", log),
			User:     utils.GetEnv("POSTGRES_USER", "postgres", log),
			Password: utils.GetEnv("POSTGRES_PASSWORD", "", log),
			Name:     utils.GetEnv("POSTGRES_NAME", "roomchat", log),
			DSN:      utils.GetEnv("DATABASE_URL", "", log),

			AutoMigrate: utils.GetEnvAsBool("DB_AUTO_MIGRATE", true, log),
		},
		AI: AIConfig{
			Provider:         utils.GetEnv("AI_PROVIDER", ProviderGemini, log),
			APIURL:           utils.GetEnv("AI_API_URL", "https://generativelanguage.googleapis.com", log),
			APIKey:           utils.GetEnv("AI_API_KEY", "", log),
			Model:            utils.GetEnv("AI_MODEL", "gemini-2.0-flash", log),
			SystemPrompt:     utils.GetEnv("AI_SYSTEM_PROMPT", "You are a helpful assistant taking part in a group chat room. Answer the latest user message concisely.", log),
			Temperature:      utils.GetEnvAsFloat("AI_TEMPERATURE", 0.2, log),
			MaxOutputTokens:  utils.GetEnvAsInt("AI_MAX_OUTPUT_TOKENS", 512, log),
			Timeout:          utils.GetEnvAsDuration("AI_TIMEOUT", 30*time.Second, log),
			FallbackText:     utils.GetEnv("AI_FALLBACK_TEXT", "I'm having trouble responding right now, please try again.", log),
			ContextWindow:    utils.GetEnvAsInt("CONTEXT_WINDOW", 10, log),
			BreakerThreshold: utils.GetEnvAsInt("AI_BREAKER_THRESHOLD", 5, log),
			BreakerCooldown:  utils.GetEnvAsDuration("AI_BREAKER_COOLDOWN", 30*time.Second, log),
		},
		Redis: RedisConfig{
			Address:  utils.GetEnv("REDIS_ADDRESS", "", log),
			Password: utils.GetEnv("REDIS_PASSWORD", "", log),
			DB:       utils.GetEnvAsInt("REDIS_DB", 0, log),
			CacheTTL: utils.GetEnvAsDuration("CACHE_TTL", 60*time.Second, log),
		},
		Storage: StorageConfig{
			Bucket:          utils.GetEnv("GCS_BUCKET", "", log),
			CredentialsFile: utils.GetEnv("GCS_CREDENTIALS_FILE", "", log),
			PublicBaseURL:   utils.GetEnv("GCS_PUBLIC_BASE_URL", "https://storage.googleapis.com", log),
			AvatarSize:      utils.GetEnvAsInt("AVATAR_THUMB_SIZE", 128, log),
		},
		Seed: SeedConfig{
			RoomsPath:  utils.GetEnv("SEED_ROOMS_JSON_PATH", "", log),
			RoomsOwner: utils.GetEnv("SEED_ROOMS_OWNER", "", log),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info("Environment variables loaded for Config :)")
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecretKey == "" {
		return errors.New("JWT_SECRET_KEY must be set")
	}
	switch c.ExchangeMode {
	case ExchangeModeSync, ExchangeModeAsync:
	default:
		return fmt.Errorf("EXCHANGE_MODE must be %q or %q, got %q", ExchangeModeSync, ExchangeModeAsync, c.ExchangeMode)
	}
	switch c.QueueBackend {
	case QueueMemory, QueueRedis:
	default:
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueMemory, QueueRedis, c.QueueBackend)
	}
	switch c.RoomLock {
	case LockLocal, LockRedis:
	default:
		return fmt.Errorf("ROOM_LOCK must be %q or %q, got %q", LockLocal, LockRedis, c.RoomLock)
	}
	if (c.QueueBackend == QueueRedis || c.RoomLock == LockRedis) && c.Redis.Address == "" {
		return errors.New("REDIS_ADDRESS is required for redis queue or redis room lock")
	}
	switch c.Database.Type {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_TYPE must be postgres or sqlite, got %q", c.Database.Type)
	}
	switch c.AI.Provider {
	case ProviderGemini, ProviderDeepseek:
	default:
		return fmt.Errorf("AI_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderDeepseek, c.AI.Provider)
	}
	if c.AI.ContextWindow <= 0 {
		return errors.New("CONTEXT_WINDOW must be positive")
	}
	if c.AI.Timeout <= 0 {
		return errors.New("AI_TIMEOUT must be positive")
	}
	if c.Seed.RoomsPath != "" && c.Seed.RoomsOwner == "" {
		return errors.New("SEED_ROOMS_OWNER is required with SEED_ROOMS_JSON_PATH")
	}
	if strings.TrimSpace(c.AI.FallbackText) == "" {
		return errors.New("AI_FALLBACK_TEXT must not be empty")
	}
	return nil
}

// PostgresDSN returns DATABASE_URL when set, otherwise builds one from parts.
func (d DatabaseConfig) PostgresDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", d.User, d.Password, d.Host, d.Port, d.Name)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = utils.ParseInputString(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
