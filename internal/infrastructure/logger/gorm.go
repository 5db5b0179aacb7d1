package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger adapts zap to gorm's logger.Interface so SQL statements
// land in the same structured stream as everything else.
type GormLogger struct {
	log          *zap.Logger
	level        gormlogger.LogLevel
	slowAfter    time.Duration
	skipNotFound bool
}

// GormLoggerOption adjusts a GormLogger during construction.
type GormLoggerOption func(*GormLogger)

// WithSlowThreshold sets the duration above which a query is logged as
// slow. Zero disables the slow query warning.
func WithSlowThreshold(threshold time.Duration) GormLoggerOption {
	return func(l *GormLogger) { l.slowAfter = threshold }
}

// WithIgnoreRecordNotFoundError controls whether ErrRecordNotFound is
// suppressed. It is on by default since not-found is a normal outcome
// for lookups.
func WithIgnoreRecordNotFoundError(ignore bool) GormLoggerOption {
	return func(l *GormLogger) { l.skipNotFound = ignore }
}

// NewGormLogger wraps the zap logger for GORM. Queries slower than
// 200ms are warned about unless WithSlowThreshold overrides it.
func NewGormLogger(zapLogger *zap.Logger, level gormlogger.LogLevel, opts ...GormLoggerOption) *GormLogger {
	gl := &GormLogger{
		log:          zapLogger.Named("gorm"),
		level:        level,
		slowAfter:    200 * time.Millisecond,
		skipNotFound: true,
	}
	for _, opt := range opts {
		opt(gl)
	}
	return gl
}

// LogMode returns a copy at the given level, per gormlogger.Interface.
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	l.printf(gormlogger.Info, l.log.Sugar().Infof, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.printf(gormlogger.Warn, l.log.Sugar().Warnf, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	l.printf(gormlogger.Error, l.log.Sugar().Errorf, msg, data)
}

func (l *GormLogger) printf(min gormlogger.LogLevel, emit func(string, ...any), msg string, data []any) {
	if l.level >= min {
		emit(msg, data...)
	}
}

// Trace logs one executed statement with its latency and row count.
// Entries are correlated with the request id and trace id when the
// query context carries them.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := l.traceFields(ctx, elapsed, rows, sql)

	switch {
	case err != nil && l.level >= gormlogger.Error:
		if l.skipNotFound && errors.Is(err, gormlogger.ErrRecordNotFound) {
			return
		}
		l.log.Error("SQL Error", append(fields, zap.Error(err))...)
	case l.slowAfter != 0 && elapsed > l.slowAfter && l.level >= gormlogger.Warn:
		l.log.Warn(fmt.Sprintf("SLOW SQL >= %v", l.slowAfter), fields...)
	case l.level >= gormlogger.Info:
		l.log.Debug("SQL Query", fields...)
	}
}

func (l *GormLogger) traceFields(ctx context.Context, elapsed time.Duration, rows int64, sql string) []zap.Field {
	fields := make([]zap.Field, 0, 6)
	fields = append(fields,
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	)
	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if traceID := GetTraceID(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	return fields
}

var gormLevelNames = map[string]gormlogger.LogLevel{
	"silent": gormlogger.Silent,
	"error":  gormlogger.Error,
	"warn":   gormlogger.Warn,
	"info":   gormlogger.Info,
	"debug":  gormlogger.Info,
}

// MapGormLogLevel translates the textual database.log_level setting
// into GORM's level. Unknown values land on Warn.
func MapGormLogLevel(level string) gormlogger.LogLevel {
	if lvl, ok := gormLevelNames[level]; ok {
		return lvl
	}
	return gormlogger.Warn
}
