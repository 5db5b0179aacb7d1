package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration, grouped by subsystem.
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Log          LogConfig
	HTTP         HTTPConfig
	Gateway      GatewayConfig
	Orchestrator OrchestratorConfig
	Telemetry    TelemetryConfig
}

// AppConfig identifies the process and the port it listens on.
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig selects log level, encoding and destination.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr
}

// DatabaseConfig covers the Postgres connection and its pool.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig covers the Redis connection used for rate limits,
// caches and the token blacklist.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds token validation settings. The gateway validates
// tokens, it never issues them.
type JWTConfig struct {
	Secret       string
	Issuer       string
	BlacklistTTL time.Duration // retention for blacklisted tokens
}

// HTTPConfig tunes the gin server and its CORS policy.
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
}

// GatewayConfig holds routing pipeline settings
type GatewayConfig struct {
	APIVersions        []string      // accepted path versions
	DefaultVersion     string        // assumed when the path omits a known version
	DefaultRateLimit   int           // requests per hour per (service, caller)
	ResponseCacheTTL   time.Duration // successful GET cache lifetime
	QueryCacheTTL      time.Duration // query-bus cache lifetime
	MetricsRetention   time.Duration // hour-bucket retention
	MetricsWindowHours int           // default aggregation window
	BreakerThreshold   int           // consecutive failures before opening
	BreakerCooldown    time.Duration // open-state duration
	HealthCheckEnabled bool          // probe downstream health before forwarding
	HealthCheckTimeout time.Duration
}

// OrchestratorConfig holds workflow/saga execution settings
type OrchestratorConfig struct {
	Workers            int           // concurrent workflow/saga instances
	QueueSize          int           // pending instance queue
	DefaultStepTimeout time.Duration // applied when a step omits timeoutMs
}

// TelemetryConfig holds OpenTelemetry and profiling configuration
type TelemetryConfig struct {
	Enabled           bool    // master switch for traces
	CollectorEndpoint string  // OTLP gRPC endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // 0.0-1.0
	ServiceName       string
	Insecure          bool // non-TLS exporter connection (development only)

	MetricsEnabled  bool
	MetricsInterval time.Duration

	LogsEnabled bool // bridge zap output to the collector

	DBTraceEnabled    bool          // otelgorm query tracing
	DBLogFullSQL      bool          // full SQL in spans (dev only)
	DBSlowQueryThresh time.Duration

	ProfilingEnabled bool   // Pyroscope continuous profiling
	ProfilingServer  string // Pyroscope server address
}

// Load reads config.toml and the environment. Env vars use the
// GATEWAY_ prefix (GATEWAY_DATABASE_PASSWORD overrides
// database.password) and win over the file, which wins over the
// built-in defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Running without a config file is fine
	}

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:       v.GetString("jwt.secret"),
			Issuer:       v.GetString("jwt.issuer"),
			BlacklistTTL: v.GetDuration("jwt.blacklist_ttl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
		},
		Gateway: GatewayConfig{
			APIVersions:        v.GetStringSlice("gateway.api_versions"),
			DefaultVersion:     v.GetString("gateway.default_version"),
			DefaultRateLimit:   v.GetInt("gateway.default_rate_limit"),
			ResponseCacheTTL:   v.GetDuration("gateway.response_cache_ttl"),
			QueryCacheTTL:      v.GetDuration("gateway.query_cache_ttl"),
			MetricsRetention:   v.GetDuration("gateway.metrics_retention"),
			MetricsWindowHours: v.GetInt("gateway.metrics_window_hours"),
			BreakerThreshold:   v.GetInt("gateway.breaker_threshold"),
			BreakerCooldown:    v.GetDuration("gateway.breaker_cooldown"),
			HealthCheckEnabled: v.GetBool("gateway.health_check_enabled"),
			HealthCheckTimeout: v.GetDuration("gateway.health_check_timeout"),
		},
		Orchestrator: OrchestratorConfig{
			Workers:            v.GetInt("orchestrator.workers"),
			QueueSize:          v.GetInt("orchestrator.queue_size"),
			DefaultStepTimeout: v.GetDuration("orchestrator.default_step_timeout"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			ProfilingServer:   v.GetString("telemetry.profiling_server"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Zero values count as unset, so "0" in a config file or env var falls
// back to the default as well.
func fallback[T comparable](target *T, def T) {
	var zero T
	if *target == zero {
		*target = def
	}
}

func fallbackSlice(target *[]string, def []string) {
	if len(*target) == 0 {
		*target = def
	}
}

// applyDefaults fills every unset field with its built-in default.
func applyDefaults(cfg *Config) {
	fallback(&cfg.App.Name, "ecomhub-gateway")
	fallback(&cfg.App.Env, "development")
	fallback(&cfg.App.Port, "8080")

	fallback(&cfg.Database.Host, "localhost")
	fallback(&cfg.Database.Port, 5432)
	fallback(&cfg.Database.User, "postgres")
	fallback(&cfg.Database.DBName, "gateway")
	fallback(&cfg.Database.SSLMode, "disable")
	fallback(&cfg.Database.MaxOpenConns, 25)
	fallback(&cfg.Database.MaxIdleConns, 5)
	fallback(&cfg.Database.ConnMaxLifetime, 60)
	fallback(&cfg.Database.ConnMaxIdleTime, 30)

	fallback(&cfg.Redis.Host, "localhost")
	fallback(&cfg.Redis.Port, 6379)

	fallback(&cfg.JWT.Issuer, "ecomhub")
	fallback(&cfg.JWT.BlacklistTTL, 24*time.Hour)

	fallback(&cfg.Log.Level, "info")
	fallback(&cfg.Log.Format, "console")
	fallback(&cfg.Log.Output, "stdout")

	fallback(&cfg.HTTP.ReadTimeout, 15*time.Second)
	// Forwarded calls may legitimately take the full descriptor timeout
	fallback(&cfg.HTTP.WriteTimeout, 60*time.Second)
	fallback(&cfg.HTTP.IdleTimeout, 60*time.Second)
	fallback(&cfg.HTTP.MaxHeaderBytes, 1<<20)
	fallback(&cfg.HTTP.MaxBodySize, 10<<20)
	fallbackSlice(&cfg.HTTP.CORSAllowMethods, []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"})
	fallbackSlice(&cfg.HTTP.CORSAllowHeaders, []string{"Content-Type", "Authorization", "X-Request-ID"})

	fallbackSlice(&cfg.Gateway.APIVersions, []string{"v1", "v2", "v3"})
	fallback(&cfg.Gateway.DefaultVersion, "v1")
	fallback(&cfg.Gateway.DefaultRateLimit, 1000)
	fallback(&cfg.Gateway.ResponseCacheTTL, 5*time.Minute)
	fallback(&cfg.Gateway.QueryCacheTTL, 5*time.Minute)
	fallback(&cfg.Gateway.MetricsRetention, 2*time.Hour)
	fallback(&cfg.Gateway.MetricsWindowHours, 24)
	fallback(&cfg.Gateway.BreakerThreshold, 5)
	fallback(&cfg.Gateway.BreakerCooldown, 5*time.Minute)
	fallback(&cfg.Gateway.HealthCheckTimeout, 2*time.Second)

	fallback(&cfg.Orchestrator.Workers, 10)
	fallback(&cfg.Orchestrator.QueueSize, 100)
	fallback(&cfg.Orchestrator.DefaultStepTimeout, 30*time.Second)

	fallback(&cfg.Telemetry.CollectorEndpoint, "localhost:4317")
	fallback(&cfg.Telemetry.SamplingRatio, 1.0)
	fallback(&cfg.Telemetry.ServiceName, "ecomhub-gateway")
	fallback(&cfg.Telemetry.MetricsInterval, 60*time.Second)
	fallback(&cfg.Telemetry.DBSlowQueryThresh, 200*time.Millisecond)
}

// validate rejects configurations that cannot work, with stricter
// rules in production.
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Gateway.BreakerThreshold < 1 {
		return fmt.Errorf("gateway.breaker_threshold must be at least 1")
	}
	if c.Gateway.DefaultRateLimit < -1 {
		return fmt.Errorf("gateway.default_rate_limit must be positive or -1 for unlimited")
	}
	if c.Orchestrator.Workers < 1 {
		return fmt.Errorf("orchestrator.workers must be at least 1")
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN builds the Postgres URL, escaping credentials.
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the Redis host:port pair
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
