package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/slotter-org/roomchat-backend/internal/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// gormLogger sends GORM's logging through the app logger. A missing row is an
// answer for lookups, not a failure, so it is never logged.
type gormLogger struct {
	log   *logger.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newGormLogger(log *logger.Logger) gormlogger.Interface {
	return &gormLogger{
		log:   log.With("component", "gorm"),
		level: gormlogger.Warn,
		slow:  slowQueryThreshold,
	}
}

func (g *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *g
	next.level = level
	return &next
}

func (g *gormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Info {
		g.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Warn {
		g.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Error {
		g.log.Error(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= gormlogger.Error:
		sql, rows := fc()
		g.log.Error("Query failed", "error", err, "sql", sql, "rows", rows, "elapsed", elapsed.String())
	case elapsed > g.slow && g.level >= gormlogger.Warn:
		sql, rows := fc()
		g.log.Warn("Slow query", "sql", sql, "rows", rows, "elapsed", elapsed.String())
	case g.level >= gormlogger.Info:
		sql, rows := fc()
		g.log.Debug("Query", "sql", sql, "rows", rows, "elapsed", elapsed.String())
	}
}
