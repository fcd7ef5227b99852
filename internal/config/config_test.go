package config

import (
	"testing"
	"time"

	"github.com/slotter-org/roomchat-backend/internal/logger"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "test-secret")
	t.Setenv("AI_TIMEOUT", "5s")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:3000, https://chat.example.com ,")

	cfg, err := Load(logger.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ExchangeMode != ExchangeModeSync {
		t.Errorf("ExchangeMode = %q, want sync", cfg.ExchangeMode)
	}
	if cfg.AI.ContextWindow != 10 {
		t.Errorf("ContextWindow = %d, want 10", cfg.AI.ContextWindow)
	}
	if cfg.AI.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.AI.Timeout)
	}
	if cfg.AccessTokenTTL != 24*time.Hour {
		t.Errorf("AccessTokenTTL = %v, want 24h", cfg.AccessTokenTTL)
	}
	if !cfg.Database.AutoMigrate {
		t.Error("AutoMigrate should default to true")
	}
	if cfg.LogMode != "development" {
		t.Errorf("LogMode = %q, want development", cfg.LogMode)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://chat.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"JWT_SECRET_KEY": ""}},
		{"bad mode", map[string]string{"JWT_SECRET_KEY": "s", "EXCHANGE_MODE": "later"}},
		{"redis lock without address", map[string]string{"JWT_SECRET_KEY": "s", "ROOM_LOCK": "redis", "REDIS_ADDRESS": ""}},
		{"bad db", map[string]string{"JWT_SECRET_KEY": "s", "DB_TYPE": "oracle"}},
		{"zero window", map[string]string{"JWT_SECRET_KEY": "s", "CONTEXT_WINDOW": "0"}},
		{"unknown provider", map[string]string{"JWT_SECRET_KEY": "s", "AI_PROVIDER": "oracle"}},
		{"seed without owner", map[string]string{"JWT_SECRET_KEY": "s", "SEED_ROOMS_JSON_PATH": "rooms.json"}},
		{"blank fallback", map[string]string{"JWT_SECRET_KEY": "s", "AI_FALLBACK_TEXT": "   "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(logger.NewNop()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: "5432", Name: "chat"}
	if got, want := d.PostgresDSN(), "postgres://u:p@db:5432/chat?sslmode=disable"; got != want {
		t.Errorf("PostgresDSN() = %q, want %q", got, want)
	}
	d.DSN = "postgres://override"
	if got := d.PostgresDSN(); got != "postgres://override" {
		t.Errorf("PostgresDSN() with DSN = %q", got)
	}
}

func TestLoadAutoMigrateFlag(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "s")
	t.Setenv("DB_AUTO_MIGRATE", "false")
	t.Setenv("LOG_MODE", "production")

	cfg, err := Load(logger.NewNop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.AutoMigrate {
		t.Error("DB_AUTO_MIGRATE=false left AutoMigrate on")
	}
	if cfg.LogMode != "production" || LogMode() != "production" {
		t.Errorf("LogMode = %q / %q, want production", cfg.LogMode, LogMode())
	}
}
