package db

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/slotter-org/roomchat-backend/internal/config"
	"github.com/slotter-org/roomchat-backend/internal/logger"
)

// NewMemoryDatabase opens a private in-memory SQLite database with all tables
// migrated. Each call gets its own database.
func NewMemoryDatabase(log *logger.Logger) (*DatabaseService, error) {
	dsn := fmt.Sprintf("file:roomchat_%s?mode=memory&cache=shared", uuid.NewString())
	s, err := NewDatabaseService(config.DatabaseConfig{Type: "sqlite", DSN: dsn}, log)
	if err != nil {
		return nil, err
	}
	if err := s.AutoMigrateAll(); err != nil {
		return nil, err
	}
	return s, nil
}
