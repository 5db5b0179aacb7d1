// Package main boots the gateway: configuration, logging, telemetry,
// storage, the routing pipeline, the dispatch buses, the orchestrators
// and the HTTP surface.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cqrsapp "github.com/ecomhub/gateway/internal/application/cqrs"
	gatewayapp "github.com/ecomhub/gateway/internal/application/gateway"
	orchestrationapp "github.com/ecomhub/gateway/internal/application/orchestration"
	"github.com/ecomhub/gateway/internal/domain/orchestration"
	"github.com/ecomhub/gateway/internal/infrastructure/auth"
	"github.com/ecomhub/gateway/internal/infrastructure/cache"
	"github.com/ecomhub/gateway/internal/infrastructure/circuitbreaker"
	"github.com/ecomhub/gateway/internal/infrastructure/config"
	"github.com/ecomhub/gateway/internal/infrastructure/downstream"
	"github.com/ecomhub/gateway/internal/infrastructure/event"
	"github.com/ecomhub/gateway/internal/infrastructure/eventstore"
	"github.com/ecomhub/gateway/internal/infrastructure/logger"
	"github.com/ecomhub/gateway/internal/infrastructure/metrics"
	"github.com/ecomhub/gateway/internal/infrastructure/persistence"
	"github.com/ecomhub/gateway/internal/infrastructure/ratelimit"
	"github.com/ecomhub/gateway/internal/infrastructure/registry"
	"github.com/ecomhub/gateway/internal/infrastructure/scheduler"
	"github.com/ecomhub/gateway/internal/infrastructure/statestore"
	"github.com/ecomhub/gateway/internal/infrastructure/telemetry"
	"github.com/ecomhub/gateway/internal/interfaces/http/handler"
	"github.com/ecomhub/gateway/internal/interfaces/http/middleware"
	"github.com/ecomhub/gateway/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting API Gateway",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx := context.Background()

	// Initialize distributed tracing
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer shutdownTelemetry("tracer provider", tracerProvider.Shutdown, log)

	// Initialize OTLP metrics export
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer shutdownTelemetry("meter provider", meterProvider.Shutdown, log)

	// Initialize OTLP log export and bridge zap into it
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	defer shutdownTelemetry("logger provider", loggerProvider.Shutdown, log)

	if loggerProvider.IsEnabled() {
		level, parseErr := zapcore.ParseLevel(cfg.Log.Level)
		if parseErr != nil {
			level = zapcore.InfoLevel
		}
		otelCore := telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			LoggerProvider: loggerProvider,
			Level:          level,
		})
		log = telemetry.NewBridgedLogger(log.Core(), otelCore,
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
		log.Info("OTLP log export enabled")
	}

	// Initialize continuous profiling
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:             cfg.Telemetry.ProfilingEnabled,
		ServerAddress:       cfg.Telemetry.ProfilingServer,
		ApplicationName:     cfg.Telemetry.ServiceName,
		ProfileCPU:          true,
		ProfileAllocObjects: true,
		ProfileAllocSpace:   true,
		ProfileInuseObjects: true,
		ProfileInuseSpace:   true,
		ProfileGoroutines:   true,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize profiler", zap.Error(err))
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			log.Error("Error stopping profiler", zap.Error(err))
		}
	}()
	if profiler.IsEnabled() && tracerProvider.IsEnabled() {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to link span profiles", zap.Error(err))
		}
	}

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel,
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
	)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if cfg.Telemetry.DBTraceEnabled {
		dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:          true,
			LogFullSQL:       cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh:  cfg.Telemetry.DBSlowQueryThresh,
			DBSystem:         "postgresql",
			WithoutVariables: !cfg.Telemetry.DBLogFullSQL,
		}, log)
		if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
			log.Warn("Failed to register database tracing", zap.Error(err))
		}
	}

	// Query counters and pool gauges ride the same OTLP meter provider
	dbMetrics, err := telemetry.RegisterDBMetrics(db.DB, meterProvider, telemetry.DBMetricsConfig{
		Enabled:            cfg.Telemetry.MetricsEnabled,
		SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
		PoolStatsInterval:  cfg.Telemetry.MetricsInterval,
	}, log)
	if err != nil {
		log.Warn("Failed to register database metrics", zap.Error(err))
	} else if dbMetrics != nil {
		dbMetrics.StartPoolStatsCollection(ctx)
		defer dbMetrics.Stop()
	}

	// Initialize Redis connection
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing Redis client", zap.Error(err))
		}
	}()

	// Initialize persistent stores
	serviceRegistry := registry.NewGormServiceRegistry(db.DB)
	apiEvents := eventstore.NewGormEventStore(db.DB)
	workflowStore := statestore.NewGormWorkflowStore(db.DB)
	sagaStore := statestore.NewGormSagaStore(db.DB)

	// Initialize cache stores. Outside production a missing Redis keeps
	// the gateway bootable on in-memory stores.
	cacheFactory := cache.NewStoreFactory(redisClient,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	)
	responseStore, err := cacheFactory.Create("responses:")
	if err != nil {
		log.Fatal("Failed to create response cache store", zap.Error(err))
	}
	queryStore, err := cacheFactory.Create("queries:")
	if err != nil {
		log.Fatal("Failed to create query cache store", zap.Error(err))
	}

	// Initialize the routing pipeline collaborators
	responseCache := cache.NewResponseCache(responseStore)
	metricsRecorder := metrics.NewRedisMetricsRecorder(redisClient,
		metrics.WithRetention(cfg.Gateway.MetricsRetention),
	)
	tokenBlacklist := auth.NewRedisTokenBlacklist(redisClient)
	jwtService := auth.NewJWTService(cfg.JWT)
	rateLimiter := ratelimit.NewRedisRateLimiter(redisClient)
	breaker := circuitbreaker.NewBreaker(cfg.Gateway.BreakerThreshold, cfg.Gateway.BreakerCooldown, log)
	forwarder := downstream.NewHTTPForwarder(log)
	prober := downstream.NewHTTPHealthProber()

	// Gateway-level instruments live on the OTLP meter when it is on
	var gatewayMeter *telemetry.GatewayMetrics
	if meterProvider.IsEnabled() {
		gatewayMeter, err = telemetry.NewGatewayMetrics(telemetry.GatewayMetricsConfig{
			Meter:  meterProvider.Meter("gateway"),
			Logger: log,
		})
		if err != nil {
			log.Fatal("Failed to initialize gateway metrics", zap.Error(err))
		}
	}

	var routeOpts []gatewayapp.Option
	if gatewayMeter != nil {
		routeOpts = append(routeOpts, gatewayapp.WithRouteMetrics(gatewayMeter))
	}
	routeService := gatewayapp.NewService(
		serviceRegistry,
		breaker,
		rateLimiter,
		responseCache,
		metricsRecorder,
		forwarder,
		prober,
		jwtService,
		tokenBlacklist,
		gatewayapp.RouterConfig{
			APIVersions:        cfg.Gateway.APIVersions,
			DefaultVersion:     cfg.Gateway.DefaultVersion,
			DefaultRateLimit:   cfg.Gateway.DefaultRateLimit,
			ResponseCacheTTL:   cfg.Gateway.ResponseCacheTTL,
			MetricsWindowHours: cfg.Gateway.MetricsWindowHours,
			HealthCheckEnabled: cfg.Gateway.HealthCheckEnabled,
			BlacklistTTL:       cfg.JWT.BlacklistTTL,
		},
		log,
		routeOpts...,
	)
	if gatewayMeter != nil {
		gatewayMeter.SetBreakerProvider(routeService)
		gatewayMeter.StartPeriodicCollection(ctx, cfg.Telemetry.MetricsInterval)
		defer gatewayMeter.Stop()
	}

	// Initialize the dispatch buses and the built-in order aggregate
	publisher := event.NewInMemoryEventPublisher(log)

	var commandOpts []cqrsapp.CommandBusOption
	queryOpts := []cqrsapp.QueryBusOption{
		cqrsapp.WithQueryCacheTTL(cfg.Gateway.QueryCacheTTL),
	}
	if gatewayMeter != nil {
		commandOpts = append(commandOpts, cqrsapp.WithCommandMetrics(gatewayMeter))
		queryOpts = append(queryOpts, cqrsapp.WithQueryMetrics(gatewayMeter))
	}
	commandBus := cqrsapp.NewCommandBus(apiEvents, publisher, log, commandOpts...)
	queryBus := cqrsapp.NewQueryBus(queryStore, log, queryOpts...)

	orderProjection := cqrsapp.RegisterOrderHandlers(commandBus, queryBus, publisher)
	if err := commandBus.RebuildProjection(ctx, orderProjection); err != nil {
		log.Fatal("Failed to rebuild order projection", zap.Error(err))
	}

	// Initialize the worker pool shared by both orchestrators
	pool := scheduler.NewPool(scheduler.Config{
		Workers:   cfg.Orchestrator.Workers,
		QueueSize: cfg.Orchestrator.QueueSize,
	}, log)
	if err := pool.Start(ctx); err != nil {
		log.Fatal("Failed to start worker pool", zap.Error(err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pool.Stop(stopCtx); err != nil {
			log.Error("Worker pool did not drain", zap.Error(err))
		}
	}()

	// Initialize orchestrators
	orchestratorCfg := orchestrationapp.OrchestratorConfig{
		DefaultStepTimeout: cfg.Orchestrator.DefaultStepTimeout,
	}
	var workflowOpts []orchestrationapp.WorkflowOption
	var sagaOpts []orchestrationapp.SagaOption
	if gatewayMeter != nil {
		workflowOpts = append(workflowOpts, orchestrationapp.WithWorkflowMetrics(gatewayMeter))
		sagaOpts = append(sagaOpts, orchestrationapp.WithSagaMetrics(gatewayMeter))
	}
	workflows := orchestrationapp.NewWorkflowOrchestrator(
		workflowStore, serviceRegistry, breaker, forwarder, pool, orchestratorCfg, log, workflowOpts...,
	)
	sagas := orchestrationapp.NewSagaOrchestrator(
		sagaStore, serviceRegistry, breaker, forwarder, pool, orchestratorCfg, log, sagaOpts...,
	)
	if err := sagas.RegisterDefinition(orderFulfillmentSaga()); err != nil {
		log.Fatal("Failed to register saga definition", zap.Error(err))
	}

	// Initialize HTTP handlers
	proxyHandler := handler.NewProxyHandler(routeService, log)
	serviceHandler := handler.NewServiceHandler(routeService)
	tokenHandler := handler.NewTokenHandler(routeService)
	dispatchHandler := handler.NewDispatchHandler(commandBus, queryBus)
	workflowHandler := handler.NewWorkflowHandler(workflows)
	sagaHandler := handler.NewSagaHandler(sagas)
	systemHandler := handler.NewSystemHandler()

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	// Initialize router with custom middleware
	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware order matters:
	// 1. RequestID - Generate request ID for correlation
	// 2. Recovery - Recover from panics
	// 3. Logger - Log requests
	// 4. Secure - Security headers
	// 5. CORS - Cross-origin handling
	// 6. BodyLimit - Limit request body size
	// 7. Tracing/Metrics/Profiling - Telemetry around every route
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	// Configure CORS from config
	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	// Body size limit
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
		MeterProvider: meterProvider,
		ServiceName:   cfg.Telemetry.ServiceName,
		Enabled:       meterProvider.IsEnabled(),
	}))
	engine.Use(middleware.ProfilingWithConfig(middleware.ProfilingConfig{
		Enabled:   profiler.IsEnabled(),
		SkipPaths: []string{"/health"},
	}))

	// Setup the admin surface, the proxy catch-all and the health probe
	r := router.NewRouter(engine,
		router.WithProxy(proxyHandler.Handle),
		router.WithHealth(healthHandler(db, redisClient)),
	)

	// Admin routes require a valid gateway-issued token. The proxy
	// route authenticates inside the routing pipeline instead.
	r.Use(middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
		JWTService:     jwtService,
		TokenBlacklist: tokenBlacklist,
		Logger:         log,
	}))

	// Service registry management
	serviceRoutes := router.NewDomainGroup("services", "/services")
	serviceRoutes.POST("", serviceHandler.Register)
	serviceRoutes.GET("", serviceHandler.List)
	serviceRoutes.GET("/:name", serviceHandler.Get)
	serviceRoutes.DELETE("/:name", serviceHandler.Deregister)
	serviceRoutes.GET("/:name/circuit", serviceHandler.Circuit)

	// Per-service traffic metrics
	metricsRoutes := router.NewDomainGroup("metrics", "/metrics")
	metricsRoutes.GET("/:service", serviceHandler.Metrics)

	// Token revocation
	tokenRoutes := router.NewDomainGroup("tokens", "/tokens")
	tokenRoutes.POST("/blacklist", tokenHandler.Blacklist)

	// Command and query dispatch
	commandRoutes := router.NewDomainGroup("commands", "/commands")
	commandRoutes.POST("", dispatchHandler.ExecuteCommand)
	queryRoutes := router.NewDomainGroup("queries", "/queries")
	queryRoutes.POST("", dispatchHandler.RunQuery)

	// Workflow orchestration
	workflowRoutes := router.NewDomainGroup("workflows", "/workflows")
	workflowRoutes.POST("", workflowHandler.Start)
	workflowRoutes.GET("", workflowHandler.List)
	workflowRoutes.GET("/:id", workflowHandler.Get)
	workflowRoutes.POST("/:id/cancel", workflowHandler.Cancel)

	// Saga orchestration. /definitions registers before /:id so gin
	// routes it as a literal segment.
	sagaRoutes := router.NewDomainGroup("sagas", "/sagas")
	sagaRoutes.POST("", sagaHandler.Start)
	sagaRoutes.GET("", sagaHandler.List)
	sagaRoutes.GET("/definitions", sagaHandler.Definitions)
	sagaRoutes.GET("/:id", sagaHandler.Get)

	// System info
	systemRoutes := router.NewDomainGroup("system", "/system")
	systemRoutes.GET("/info", systemHandler.GetSystemInfo)
	systemRoutes.GET("/ping", systemHandler.Ping)

	// Register all domain groups
	r.Register(serviceRoutes).
		Register(metricsRoutes).
		Register(tokenRoutes).
		Register(commandRoutes).
		Register(queryRoutes).
		Register(workflowRoutes).
		Register(sagaRoutes).
		Register(systemRoutes)

	// Setup routes
	r.Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// shutdownTelemetry flushes one telemetry provider with a bounded
// timeout so a dead collector cannot hang process exit.
func shutdownTelemetry(name string, shutdown func(context.Context) error, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Error("Error shutting down "+name, zap.Error(err))
	}
}

// healthHandler reports gateway liveness plus the state of both
// backing stores. Any failing dependency turns the probe unhealthy.
func healthHandler(db *persistence.Database, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		status := http.StatusOK
		overall := "healthy"
		database := "ok"
		redisState := "ok"

		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check database ping failed", zap.Error(err))
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
			database = "error"
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			reqLog.Warn("Health check Redis ping failed", zap.Error(err))
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
			redisState = "error"
		}

		c.JSON(status, gin.H{
			"status":   overall,
			"time":     time.Now().Format(time.RFC3339),
			"database": database,
			"redis":    redisState,
		})
	}
}

// orderFulfillmentSaga is the definition registered at boot. It pairs
// with the built-in order aggregate: reserve stock, charge payment,
// create the shipment, with stock release and refund as compensation.
func orderFulfillmentSaga() orchestration.SagaDefinition {
	return orchestration.SagaDefinition{
		Type: "order_fulfillment",
		Steps: []orchestration.SagaStep{
			{Name: "reserve_stock", Service: "inventory", Action: "reserve_stock"},
			{Name: "charge_payment", Service: "payments", Action: "charge"},
			{Name: "create_shipment", Service: "orders", Action: "create_shipment"},
		},
		CompensatingActions: []orchestration.CompensatingAction{
			{Service: "inventory", Action: "release_stock"},
			{Service: "payments", Action: "refund"},
		},
	}
}
