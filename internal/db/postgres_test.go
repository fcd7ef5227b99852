package db

import (
	"testing"

	"github.com/slotter-org/roomchat-backend/internal/config"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

func TestMemoryDatabaseMigrates(t *testing.T) {
	s, err := NewMemoryDatabase(logger.NewNop())
	if err != nil {
		t.Fatalf("NewMemoryDatabase: %v", err)
	}
	defer s.Close()

	for _, model := range []interface{}{&types.User{}, &types.Room{}, &types.Message{}} {
		if !s.DB().Migrator().HasTable(model) {
			t.Errorf("table for %T not created", model)
		}
	}
	if !s.DB().Migrator().HasIndex(&types.Message{}, "idx_message_room_seq") {
		t.Error("expected unique (room_id, seq) index")
	}
}

func TestUnsupportedDatabaseType(t *testing.T) {
	if _, err := NewDatabaseService(config.DatabaseConfig{Type: "mysql"}, logger.NewNop()); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
