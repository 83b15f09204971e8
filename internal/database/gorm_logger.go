package database

import (
	"context"
	"errors"
	"time"

	"github.com/pterm/pterm"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SlowQueryLogger routes gorm's logging into pterm, tagged with the pool's
// source key, and flags statements slower than the threshold
type SlowQueryLogger struct {
	logger        *pterm.Logger
	source        string
	slowThreshold time.Duration
	logLevel      logger.LogLevel
}

func NewSlowQueryLogger(ptermLogger *pterm.Logger, slowThreshold time.Duration) *SlowQueryLogger {
	return &SlowQueryLogger{
		logger:        ptermLogger,
		source:        "cursor-store",
		slowThreshold: slowThreshold,
		logLevel:      logger.Warn,
	}
}

// ForSource returns a copy that tags every entry with the given source key
func (l *SlowQueryLogger) ForSource(key string) *SlowQueryLogger {
	clone := *l
	clone.source = key
	return &clone
}

func (l *SlowQueryLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.logLevel = level
	return &clone
}

func (l *SlowQueryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.emit(logger.Info, msg, data)
}

func (l *SlowQueryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.emit(logger.Warn, msg, data)
}

func (l *SlowQueryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.emit(logger.Error, msg, data)
}

func (l *SlowQueryLogger) emit(level logger.LogLevel, msg string, data []interface{}) {
	if l.logLevel < level {
		return
	}
	args := l.logger.Args("source", l.source, "data", data)
	switch level {
	case logger.Error:
		l.logger.Error(msg, args)
	case logger.Warn:
		l.logger.Warn(msg, args)
	default:
		l.logger.Info(msg, args)
	}
}

// Trace reports one statement. Slow statements are warnings; the rest are
// traced only in info mode. Not-found and context errors are left to the
// caller, which reports them with the cycle that owns the context.
func (l *SlowQueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	args := l.logger.Args(
		"source", l.source,
		"duration_ms", elapsed.Milliseconds(),
		"rows", rows,
		"sql", sql,
	)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded):
		l.logger.Error("Table source query failed", append(args, pterm.LoggerArgument{Key: "error", Value: err}))
	case l.slowThreshold > 0 && elapsed >= l.slowThreshold:
		l.logger.Warn("Slow table source query", args)
	case l.logLevel >= logger.Info:
		l.logger.Trace("Table source query", args)
	}
}
