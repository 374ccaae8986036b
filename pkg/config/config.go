package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kkjha00007/resigate/pkg/auth"
	"github.com/kkjha00007/resigate/pkg/middleware"
	"github.com/kkjha00007/resigate/pkg/observability"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Store configuration
	Store StoreConfig

	// Authorization engine configuration
	RBAC RBACConfig

	// Authentication configuration
	Auth AuthConfig

	// Legacy promotion configuration
	Promotion PromotionConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StoreConfig selects and configures the user store
type StoreConfig struct {
	Type string

	PostgresURL         string
	PostgresMaxConns    int
	PostgresAutoMigrate bool
	RedisURL            string
	RedisDB             int
	RedisPoolSize       int
	RedisKeyPrefix      string
}

// RBACConfig tunes permission resolution and administration
type RBACConfig struct {
	// CatalogPath points at a YAML catalog; empty uses the built-in one
	CatalogPath     string
	StrictOverrides bool
	WriteRetries    int
}

// AuthConfig holds caller authentication settings
type AuthConfig struct {
	// StaticTokens is "token=userID,token2=userID2"
	StaticTokens string
}

// PromotionConfig controls the scheduled legacy promotion sweep
type PromotionConfig struct {
	Enabled   bool
	Schedule  string
	BatchSize int
}

// RateLimitConfig holds per-caller request limits
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
	// Backend is "memory" or "redis"; redis shares limits across replicas
	Backend  string
	FailOpen bool
	// TrustedProxies lists the CIDRs whose forwarding headers name the client
	// of an anonymous request. Empty means the peer address is always used.
	TrustedProxies []string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// Audit trail file; empty keeps audit events on stdout only
	AuditLogPath string

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Store:         loadStoreConfig(),
		RBAC:          loadRBACConfig(),
		Auth:          AuthConfig{StaticTokens: getEnv("RESIGATE_API_TOKENS", "")},
		Promotion:     loadPromotionConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("RESIGATE_HOST", "0.0.0.0"),
		Port:            getEnv("RESIGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("RESIGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("RESIGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("RESIGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("RESIGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("RESIGATE_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("RESIGATE_HEALTH_PORT", "9090"),
	}
}

// loadStoreConfig loads user store configuration from environment
func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Type:                strings.ToLower(getEnv("RESIGATE_STORE_TYPE", StoreMemory)),
		PostgresURL:         getEnv("RESIGATE_POSTGRES_URL", ""),
		PostgresMaxConns:    getEnvInt("RESIGATE_POSTGRES_MAX_CONNS", 25),
		PostgresAutoMigrate: getEnvBool("RESIGATE_POSTGRES_AUTO_MIGRATE", true),
		RedisURL:            getEnv("RESIGATE_REDIS_URL", ""),
		RedisDB:             getEnvInt("RESIGATE_REDIS_DB", 0),
		RedisPoolSize:       getEnvInt("RESIGATE_REDIS_POOL_SIZE", 10),
		RedisKeyPrefix:      getEnv("RESIGATE_REDIS_KEY_PREFIX", "resigate"),
	}
}

func loadRBACConfig() RBACConfig {
	return RBACConfig{
		CatalogPath:     getEnv("RESIGATE_CATALOG_PATH", ""),
		StrictOverrides: getEnvBool("RESIGATE_STRICT_OVERRIDES", true),
		WriteRetries:    getEnvInt("RESIGATE_WRITE_RETRIES", 3),
	}
}

func loadPromotionConfig() PromotionConfig {
	return PromotionConfig{
		Enabled:   getEnvBool("RESIGATE_PROMOTION_ENABLED", false),
		Schedule:  getEnv("RESIGATE_PROMOTION_SCHEDULE", "@every 1h"),
		BatchSize: getEnvInt("RESIGATE_PROMOTION_BATCH_SIZE", 100),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("RESIGATE_RATE_LIMIT_ENABLED", false),
		RequestsPerMinute: getEnvInt("RESIGATE_RATE_LIMIT_PER_MINUTE", 600),
		Burst:             getEnvInt("RESIGATE_RATE_LIMIT_BURST", 20),
		Backend:           strings.ToLower(getEnv("RESIGATE_RATE_LIMIT_BACKEND", StoreMemory)),
		FailOpen:          getEnvBool("RESIGATE_RATE_LIMIT_FAIL_OPEN", true),
		TrustedProxies:    getEnvList("RESIGATE_TRUSTED_PROXIES"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("RESIGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("RESIGATE_METRICS_ENABLED", true),
		AuditLogPath:       getEnv("RESIGATE_AUDIT_LOG_PATH", ""),
		OTelEnabled:        getEnvBool("RESIGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("RESIGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("RESIGATE_OTEL_SERVICE_NAME", "resigate"),
		OTelServiceVersion: getEnv("RESIGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("RESIGATE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate store config based on type
	switch c.Store.Type {
	case StoreMemory:
	case StorePostgres:
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	case StoreRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis store")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be memory, postgres, or redis)", c.Store.Type)
	}

	if _, err := auth.ParseStaticTokens(c.Auth.StaticTokens); err != nil {
		return fmt.Errorf("invalid API tokens: %w", err)
	}

	if c.RBAC.WriteRetries < 0 {
		return fmt.Errorf("write retries must not be negative")
	}

	if c.Promotion.Enabled {
		if _, err := cron.ParseStandard(c.Promotion.Schedule); err != nil {
			return fmt.Errorf("invalid promotion schedule %q: %w", c.Promotion.Schedule, err)
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate limit must be positive when rate limiting is enabled")
		}
		switch c.RateLimit.Backend {
		case StoreMemory:
		case StoreRedis:
			if c.Store.RedisURL == "" {
				return fmt.Errorf("redis URL is required for the redis rate limiter")
			}
		default:
			return fmt.Errorf("invalid rate limit backend: %s (must be memory or redis)", c.RateLimit.Backend)
		}
		if _, err := middleware.ParseCIDRs(c.RateLimit.TrustedProxies); err != nil {
			return fmt.Errorf("invalid trusted proxies: %w", err)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
