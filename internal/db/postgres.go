package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/slotter-org/roomchat-backend/internal/config"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

type DatabaseService struct {
	db     *gorm.DB
	dbType string
	log    *logger.Logger
}

func NewDatabaseService(cfg config.DatabaseConfig, log *logger.Logger) (*DatabaseService, error) {
	serviceLog := log.With("service", "DatabaseService", "db_type", cfg.Type)

	//1) Pick Dialector
	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dsn := cfg.PostgresDSN()
		log.Debug("Postgres DSN built :)", "host", cfg.Host, "port", cfg.Port, "dbname", cfg.Name)
		dialector = postgres.Open(dsn)
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "roomchat.db"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	//2) Attempt DB Connection
	log.Info("Attempting to connect to DB now...", "db_type", cfg.Type)
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   newGormLogger(serviceLog),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		log.Error("Failed to connect to DB", "error", err)
		return nil, fmt.Errorf("Failed to connect to DB: %w", err)
	}
	log.Info("Successfully Connected to DB :)")

	//3) SQLite allows a single writer
	if cfg.Type == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, fmt.Errorf("failed to enable sqlite foreign keys: %w", err)
		}
	}

	return &DatabaseService{db: db, dbType: cfg.Type, log: serviceLog}, nil
}

func (s *DatabaseService) AutoMigrateAll() error {
	s.log.Info("Starting AutoMigrateAll for all GORM models now...")

	if err := s.db.AutoMigrate(
		&types.User{},
		&types.Room{},
		&types.Message{},
	); err != nil {
		s.log.Error("AutoMigrateAll failed for Base Tables :(", "error", err)
		return err
	}
	s.log.Info("AutoMigrateAll completed successfully for Base Tables :)")

	if s.dbType != "postgres" {
		return nil
	}

	s.log.Info("Configuring Foreign Key Relationships for Base Tables now...")
	constraints := []struct {
		table string
		name  string
		ddl   string
	}{
		// -- Room.created_by => user.id (ON DELETE CASCADE)
		{"room", "fk_room_created_by", `
			ALTER TABLE "room"
			ADD CONSTRAINT "fk_room_created_by"
			FOREIGN KEY ("created_by")
			REFERENCES "user"("id")
			ON DELETE CASCADE
		`},
		// -- Message.room_id => room.id (ON DELETE CASCADE)
		{"message", "fk_message_room_id", `
			ALTER TABLE "message"
			ADD CONSTRAINT "fk_message_room_id"
			FOREIGN KEY ("room_id")
			REFERENCES "room"("id")
			ON DELETE CASCADE
		`},
		// -- Message.user_id => user.id (ON DELETE SET NULL)
		{"message", "fk_message_user_id", `
			ALTER TABLE "message"
			ADD CONSTRAINT "fk_message_user_id"
			FOREIGN KEY ("user_id")
			REFERENCES "user"("id")
			ON DELETE SET NULL
		`},
	}
	for _, c := range constraints {
		if s.db.Migrator().HasConstraint(c.table, c.name) {
			continue
		}
		if err := s.db.Exec(c.ddl).Error; err != nil {
			return fmt.Errorf("failed to add %s: %w", c.name, err)
		}
	}
	s.log.Info("Successfully Added Foreign Key Relationships to Base Tables :)")

	return nil
}

func (s *DatabaseService) DB() *gorm.DB {
	return s.db
}

func (s *DatabaseService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
