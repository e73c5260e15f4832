package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/sweepd/internal/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// gormLogger routes gorm's SQL logging through the context logger.
type gormLogger struct {
	level gormlogger.LogLevel
}

func newGormLogger(level string) gormlogger.Interface {
	return &gormLogger{level: parseGormLevel(level)}
}

func parseGormLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func (g *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLogger{level: level}
}

func (g *gormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Info {
		logger.CtxInfo(ctx, msg, args...)
	}
}

func (g *gormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Warn {
		logger.CtxWarn(ctx, msg, args...)
	}
}

func (g *gormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Error {
		logger.CtxError(ctx, msg, args...)
	}
}

func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	entry := func() *logger.Entry {
		sql, rows := fc()
		return logger.With(logger.Fields{"sql": sql, "rows": rows}).WithDuration(elapsed)
	}

	switch {
	case err != nil && g.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		entry().With(logger.Fields{"error": err.Error()}).Error(ctx, "Query failed")
	case elapsed > slowQueryThreshold && g.level >= gormlogger.Warn:
		entry().Warn(ctx, "Slow query")
	case g.level >= gormlogger.Info:
		entry().Debug(ctx, "Query")
	}
}
