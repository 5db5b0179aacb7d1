package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig controls span generation for GORM operations.
type DBTracingConfig struct {
	Enabled bool
	// LogFullSQL puts complete statements on spans. Keep off outside
	// development; statements can carry customer data.
	LogFullSQL       bool
	SlowQueryThresh  time.Duration
	DBSystem         string
	WithoutVariables bool
}

func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		Enabled:          false,
		LogFullSQL:       false,
		SlowQueryThresh:  200 * time.Millisecond,
		DBSystem:         "postgresql",
		WithoutVariables: true,
	}
}

// DBTracingPlugin layers slow query detection and error marking on top
// of otelgorm spans.
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	return &DBTracingPlugin{config: cfg, logger: logger}
}

// RegisterOtelGorm installs otelgorm plus the timing callbacks on db.
// A second registration on the same db fails on the duplicate callback
// names.
func (p *DBTracingPlugin) RegisterOtelGorm(db *gorm.DB) error {
	if !p.config.Enabled {
		p.logger.Debug("Query tracing is off, otelgorm not installed")
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(p.config.DBSystem)}
	if !p.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	if err := p.registerTimingCallbacks(db); err != nil {
		return err
	}

	p.logger.Info("Query tracing installed",
		zap.String("db_system", p.config.DBSystem),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
		zap.Bool("log_full_sql", p.config.LogFullSQL),
	)
	return nil
}

// registerTimingCallbacks brackets every GORM operation so the after
// callback can compute elapsed time from a start stamp in the context.
func (p *DBTracingPlugin) registerTimingCallbacks(db *gorm.DB) error {
	before := func(db *gorm.DB) {
		if db.Statement.Context != nil {
			db.Statement.Context = WithQueryStartTime(db.Statement.Context)
		}
	}

	registrations := []struct {
		name     string
		register func(string, func(*gorm.DB)) error
		handler  func(*gorm.DB)
	}{
		{"otel_timing:before_create", db.Callback().Create().Before("gorm:create").Register, before},
		{"otel_timing:before_query", db.Callback().Query().Before("gorm:query").Register, before},
		{"otel_timing:before_update", db.Callback().Update().Before("gorm:update").Register, before},
		{"otel_timing:before_delete", db.Callback().Delete().Before("gorm:delete").Register, before},
		{"otel_timing:before_row", db.Callback().Row().Before("gorm:row").Register, before},
		{"otel_timing:before_raw", db.Callback().Raw().Before("gorm:raw").Register, before},
		{"otel_timing:after_create", db.Callback().Create().After("gorm:create").Register, p.slowQueryCallback},
		{"otel_timing:after_query", db.Callback().Query().After("gorm:query").Register, p.slowQueryCallback},
		{"otel_timing:after_update", db.Callback().Update().After("gorm:update").Register, p.slowQueryCallback},
		{"otel_timing:after_delete", db.Callback().Delete().After("gorm:delete").Register, p.slowQueryCallback},
		{"otel_timing:after_row", db.Callback().Row().After("gorm:row").Register, p.slowQueryCallback},
		{"otel_timing:after_raw", db.Callback().Raw().After("gorm:raw").Register, p.slowQueryCallback},
	}
	for _, r := range registrations {
		if err := r.register(r.name, r.handler); err != nil {
			return err
		}
	}
	return nil
}

// slowQueryCallback annotates the active span after each operation.
func (p *DBTracingPlugin) slowQueryCallback(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}

	p.annotateResult(span, db)

	if start, ok := ctx.Value(queryStartTimeKey).(time.Time); ok {
		p.flagIfSlow(span, time.Since(start))
	}
}

func (p *DBTracingPlugin) annotateResult(span trace.Span, db *gorm.DB) {
	if db.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	// A missing record is a normal outcome, never span-level failure
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}
}

func (p *DBTracingPlugin) flagIfSlow(span trace.Span, elapsed time.Duration) {
	if elapsed <= p.config.SlowQueryThresh {
		return
	}
	span.SetAttributes(
		attribute.Bool("db.slow_query", true),
		attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
	)
	span.AddEvent("slow_query_warning", trace.WithAttributes(
		attribute.Int64("duration_ms", elapsed.Milliseconds()),
		attribute.Int64("threshold_ms", p.config.SlowQueryThresh.Milliseconds()),
	))
}

type contextKey string

const queryStartTimeKey contextKey = "otel_query_started_at"

// WithQueryStartTime stamps ctx with the moment a query began.
func WithQueryStartTime(ctx context.Context) context.Context {
	return context.WithValue(ctx, queryStartTimeKey, time.Now())
}
