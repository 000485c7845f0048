package logger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm/logger"
)

const defaultSlowSQL = 200 * time.Millisecond

// SlogGormLogger 指针与会话表的 SQL 日志，按表名打标便于排查分叉
type SlogGormLogger struct {
	LogLevel      logger.LogLevel
	SlowThreshold time.Duration
}

func NewGormLogger() *SlogGormLogger {
	return &SlogGormLogger{LogLevel: logger.Info, SlowThreshold: defaultSlowSQL}
}

func (l *SlogGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	next := *l
	next.LogLevel = level
	return &next
}

func (l *SlogGormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Info {
		slog.InfoContext(ctx, msg, "data", data)
	}
}

func (l *SlogGormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Warn {
		slog.WarnContext(ctx, msg, "data", data)
	}
}

func (l *SlogGormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Error {
		slog.ErrorContext(ctx, msg, "data", data)
	}
}

func (l *SlogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	operation, table := sqlTarget(sql)

	fields := []any{
		slog.String("table", table),
		slog.String("sql", sql),
		slog.Duration("latency", elapsed),
		slog.Int64("rows", rows),
	}
	msg := "MySQL " + operation

	switch {
	case err != nil && !errors.Is(err, logger.ErrRecordNotFound):
		if l.LogLevel >= logger.Error {
			slog.ErrorContext(ctx, msg+" Error", append(fields, slog.Any("err", err))...)
		}
	case l.SlowThreshold > 0 && elapsed > l.SlowThreshold:
		if l.LogLevel >= logger.Warn {
			slog.WarnContext(ctx, msg+" Slow", fields...)
		}
	case l.LogLevel >= logger.Info:
		slog.InfoContext(ctx, msg, fields...)
	}
}

// sqlTarget 取出语句类型与首个表名
func sqlTarget(sql string) (operation, table string) {
	operation = "Query"
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return operation, ""
	}
	operation = strings.ToUpper(fields[0])
	for i, f := range fields[:len(fields)-1] {
		switch strings.ToUpper(f) {
		case "FROM", "INTO", "UPDATE":
			return operation, strings.Trim(fields[i+1], "`\"")
		}
	}
	return operation, ""
}
