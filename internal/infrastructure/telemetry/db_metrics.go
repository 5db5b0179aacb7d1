package telemetry

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBMetricsConfig controls query and connection pool metrics.
type DBMetricsConfig struct {
	Enabled            bool
	SlowQueryThreshold time.Duration
	PoolStatsInterval  time.Duration
}

func DefaultDBMetricsConfig() DBMetricsConfig {
	return DBMetricsConfig{
		Enabled:            true,
		SlowQueryThreshold: 200 * time.Millisecond,
		PoolStatsInterval:  15 * time.Second,
	}
}

// DBMetrics owns the database instruments and the pool stats sampler
// goroutine.
type DBMetrics struct {
	poolConnections    *Gauge
	poolConnectionsMax *Gauge
	queryTotal         *Counter
	queryDuration      *Histogram
	slowQueryTotal     *Counter

	config   DBMetricsConfig
	logger   *zap.Logger
	sqlDB    *sql.DB
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopOnce sync.Once
}

// NewDBMetrics registers the database instruments on meter. Zero
// thresholds and intervals fall back to the defaults.
func NewDBMetrics(meter metric.Meter, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlowQueryThreshold == 0 {
		cfg.SlowQueryThreshold = 200 * time.Millisecond
	}
	if cfg.PoolStatsInterval == 0 {
		cfg.PoolStatsInterval = 15 * time.Second
	}

	m := &DBMetrics{
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	var err error
	if m.poolConnections, err = NewGauge(meter, "db_pool_connections",
		"Number of connections in the pool by state", "{connection}"); err != nil {
		return nil, err
	}
	if m.poolConnectionsMax, err = NewGauge(meter, "db_pool_connections_max",
		"Maximum number of connections in the pool", "{connection}"); err != nil {
		return nil, err
	}
	if m.queryTotal, err = NewCounter(meter, "db_query_total",
		"Total number of database queries by operation type", "{query}"); err != nil {
		return nil, err
	}
	if m.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Database query latency distribution in seconds",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.slowQueryTotal, err = NewCounter(meter, "db_slow_query_total",
		"Total number of slow database queries", "{query}"); err != nil {
		return nil, err
	}

	return m, nil
}

// SetSQLDB wires the pool whose stats get sampled. Must happen before
// StartPoolStatsCollection.
func (m *DBMetrics) SetSQLDB(sqlDB *sql.DB) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sqlDB = sqlDB
}

// StartPoolStatsCollection samples pool stats on the configured
// interval until Stop or context cancellation.
func (m *DBMetrics) StartPoolStatsCollection(ctx context.Context) {
	if m.pool() == nil {
		m.logger.Warn("Pool sampler has no *sql.DB attached, not starting")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.config.PoolStatsInterval)
		defer ticker.Stop()

		m.collectPoolStats(ctx)
		for {
			select {
			case <-ticker.C:
				m.collectPoolStats(ctx)
			case <-m.stopCh:
				m.logger.Debug("Pool sampler stopping")
				return
			case <-ctx.Done():
				m.logger.Debug("Pool sampler context done")
				return
			}
		}
	}()

	m.logger.Info("Sampling connection pool stats", zap.Duration("interval", m.config.PoolStatsInterval))
}

func (m *DBMetrics) pool() *sql.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sqlDB
}

func (m *DBMetrics) collectPoolStats(ctx context.Context) {
	sqlDB := m.pool()
	if sqlDB == nil {
		return
	}

	stats := sqlDB.Stats()
	m.poolConnectionsMax.Record(ctx, int64(stats.MaxOpenConnections))

	// WaitCount is cumulative rather than a pool state, so it is not a
	// gauge label here
	for state, n := range map[string]int{
		"idle":   stats.Idle,
		"in_use": stats.InUse,
		"open":   stats.OpenConnections,
	} {
		m.poolConnections.Record(ctx, int64(n), AttrDBState.String(state))
	}
}

// Stop ends the sampler goroutine and waits for it. Safe to repeat.
func (m *DBMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
		m.logger.Debug("Pool sampler stopped")
	})
}

// RecordQuery counts one query and its latency, plus the slow counter
// when the duration crosses the threshold.
func (m *DBMetrics) RecordQuery(ctx context.Context, operation string, table string, duration time.Duration, err error) {
	op := AttrDBOperation.String(normalizeOperation(operation))
	m.queryTotal.Inc(ctx, op)
	m.queryDuration.RecordDuration(ctx, duration, op)

	if duration > m.config.SlowQueryThreshold {
		if table == "" {
			table = "unknown"
		}
		m.slowQueryTotal.Inc(ctx, AttrDBTable.String(table))
	}
}

// DBMetricsPlugin feeds GORM operations into DBMetrics.
type DBMetricsPlugin struct {
	metrics *DBMetrics
	logger  *zap.Logger
}

func NewDBMetricsPlugin(metrics *DBMetrics, logger *zap.Logger) *DBMetricsPlugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBMetricsPlugin{metrics: metrics, logger: logger}
}

func (p *DBMetricsPlugin) Name() string {
	return "db_metrics"
}

// Initialize hooks the before/after callbacks on every GORM operation
// kind.
func (p *DBMetricsPlugin) Initialize(db *gorm.DB) error {
	before := func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		db.Statement.Context = context.WithValue(ctx, dbMetricsStartTimeKey, time.Now())
	}

	after := func(operation string) func(*gorm.DB) {
		return func(db *gorm.DB) { p.recordMetrics(db, operation) }
	}
	// Row/Raw carry arbitrary SQL; sniff the verb from the statement
	rawAfter := func(db *gorm.DB) {
		p.recordMetrics(db, detectOperationType(db.Statement.SQL.String()))
	}

	registrations := []struct {
		name     string
		register func(string, func(*gorm.DB)) error
		handler  func(*gorm.DB)
	}{
		{"db_metrics:before_create", db.Callback().Create().Before("gorm:create").Register, before},
		{"db_metrics:before_query", db.Callback().Query().Before("gorm:query").Register, before},
		{"db_metrics:before_update", db.Callback().Update().Before("gorm:update").Register, before},
		{"db_metrics:before_delete", db.Callback().Delete().Before("gorm:delete").Register, before},
		{"db_metrics:before_row", db.Callback().Row().Before("gorm:row").Register, before},
		{"db_metrics:before_raw", db.Callback().Raw().Before("gorm:raw").Register, before},
		{"db_metrics:after_create", db.Callback().Create().After("gorm:create").Register, after("INSERT")},
		{"db_metrics:after_query", db.Callback().Query().After("gorm:query").Register, after("SELECT")},
		{"db_metrics:after_update", db.Callback().Update().After("gorm:update").Register, after("UPDATE")},
		{"db_metrics:after_delete", db.Callback().Delete().After("gorm:delete").Register, after("DELETE")},
		{"db_metrics:after_row", db.Callback().Row().After("gorm:row").Register, rawAfter},
		{"db_metrics:after_raw", db.Callback().Raw().After("gorm:raw").Register, rawAfter},
	}
	for _, r := range registrations {
		if err := r.register(r.name, r.handler); err != nil {
			return err
		}
	}

	p.logger.Info("GORM metrics callbacks installed")
	return nil
}

func (p *DBMetricsPlugin) recordMetrics(db *gorm.DB, operation string) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}

	var duration time.Duration
	if start, ok := ctx.Value(dbMetricsStartTimeKey).(time.Time); ok {
		duration = time.Since(start)
	}

	p.metrics.RecordQuery(ctx, operation, db.Statement.Table, duration, db.Error)
}

func normalizeOperation(operation string) string {
	if operation == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(operation)
}

// detectOperationType sniffs the SQL verb from raw statement text.
func detectOperationType(sql string) string {
	sql = strings.TrimSpace(strings.ToUpper(sql))
	for _, verb := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.HasPrefix(sql, verb) {
			return verb
		}
	}
	return "OTHER"
}

type dbMetricsContextKey string

const dbMetricsStartTimeKey dbMetricsContextKey = "db_metrics_started_at"

// RegisterDBMetrics wires query metrics and pool sampling onto db.
// Returns nil metrics (no error) when metrics are off; otherwise the
// caller owns the returned instance and stops it on shutdown.
func RegisterDBMetrics(db *gorm.DB, meterProvider *MeterProvider, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if !cfg.Enabled {
		logger.Debug("Query metrics are off")
		return nil, nil
	}
	if meterProvider == nil || !meterProvider.IsEnabled() {
		logger.Debug("No active meter provider, query metrics not registered")
		return nil, nil
	}

	metrics, err := NewDBMetrics(meterProvider.Meter("db.client"), cfg, logger)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	metrics.SetSQLDB(sqlDB)

	if err := db.Use(NewDBMetricsPlugin(metrics, logger)); err != nil {
		return nil, err
	}

	logger.Info("Query metrics attached to database",
		zap.Duration("slow_query_threshold", cfg.SlowQueryThreshold),
		zap.Duration("pool_stats_interval", cfg.PoolStatsInterval),
	)
	return metrics, nil
}
