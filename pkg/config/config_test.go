package config

import (
	"strings"
	"testing"
	"time"

	"github.com/kkjha00007/resigate/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"returns true for 'true'", "true", false, true},
		{"returns true for 'TRUE'", "TRUE", false, true},
		{"returns true for '1'", "1", false, true},
		{"returns false for 'false'", "false", true, false},
		{"returns false for garbage", "yes please", true, false},
		{"returns default when unset", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_BOOL", tt.envValue)
			}

			if got := getEnvBool("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvNumbers tests the integer and duration helpers
func TestGetEnvNumbers(t *testing.T) {
	t.Run("int parses valid values", func(t *testing.T) {
		t.Setenv("TEST_INT", "42")
		if got := getEnvInt("TEST_INT", 7); got != 42 {
			t.Errorf("getEnvInt() = %d, want 42", got)
		}
	})

	t.Run("int falls back on invalid values", func(t *testing.T) {
		t.Setenv("TEST_INT", "forty-two")
		if got := getEnvInt("TEST_INT", 7); got != 7 {
			t.Errorf("getEnvInt() = %d, want 7", got)
		}
	})

	t.Run("int64 parses large values", func(t *testing.T) {
		t.Setenv("TEST_INT64", "9223372036854775807")
		if got := getEnvInt64("TEST_INT64", 0); got != 9223372036854775807 {
			t.Errorf("getEnvInt64() = %d", got)
		}
	})

	t.Run("duration parses valid values", func(t *testing.T) {
		t.Setenv("TEST_DURATION", "90s")
		if got := getEnvDuration("TEST_DURATION", time.Second); got != 90*time.Second {
			t.Errorf("getEnvDuration() = %v, want 90s", got)
		}
	})

	t.Run("duration falls back on invalid values", func(t *testing.T) {
		t.Setenv("TEST_DURATION", "soon")
		if got := getEnvDuration("TEST_DURATION", time.Second); got != time.Second {
			t.Errorf("getEnvDuration() = %v, want 1s", got)
		}
	})
}

// TestLoadConfigDefaults checks the configuration an empty environment yields
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" || cfg.Server.HealthPort != "9090" {
		t.Errorf("ports = %s/%s, want 8080/9090", cfg.Server.Port, cfg.Server.HealthPort)
	}
	if cfg.Server.MaxBodyBytes != 1<<20 {
		t.Errorf("MaxBodyBytes = %d, want 1MiB", cfg.Server.MaxBodyBytes)
	}
	if cfg.Store.Type != StoreMemory {
		t.Errorf("Store.Type = %s, want memory", cfg.Store.Type)
	}
	if !cfg.RBAC.StrictOverrides {
		t.Error("StrictOverrides should default to true")
	}
	if cfg.RBAC.WriteRetries != 3 {
		t.Errorf("WriteRetries = %d, want 3", cfg.RBAC.WriteRetries)
	}
	if cfg.Promotion.Enabled {
		t.Error("promotion should be disabled by default")
	}
	if cfg.RateLimit.Enabled {
		t.Error("rate limiting should be disabled by default")
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("LogLevel = %v, want info", cfg.Observability.LogLevel)
	}
	if !cfg.Observability.MetricsEnabled {
		t.Error("metrics should be enabled by default")
	}
	if cfg.Observability.OTelServiceName != "resigate" {
		t.Errorf("OTelServiceName = %s", cfg.Observability.OTelServiceName)
	}
}

// TestLoadConfigFromEnv checks that every section reads its variables
func TestLoadConfigFromEnv(t *testing.T) {
	env := map[string]string{
		"RESIGATE_HOST":                  "127.0.0.1",
		"RESIGATE_PORT":                  "9000",
		"RESIGATE_HEALTH_PORT":           "9001",
		"RESIGATE_READ_TIMEOUT":          "5s",
		"RESIGATE_STORE_TYPE":            "Postgres",
		"RESIGATE_POSTGRES_URL":          "postgres://localhost/resigate",
		"RESIGATE_REDIS_URL":             "redis://localhost:6379/0",
		"RESIGATE_REDIS_POOL_SIZE":       "32",
		"RESIGATE_CATALOG_PATH":          "/etc/resigate/catalog.yaml",
		"RESIGATE_STRICT_OVERRIDES":      "false",
		"RESIGATE_WRITE_RETRIES":         "5",
		"RESIGATE_API_TOKENS":            "rg_a=admin",
		"RESIGATE_PROMOTION_ENABLED":     "true",
		"RESIGATE_PROMOTION_SCHEDULE":    "*/15 * * * *",
		"RESIGATE_RATE_LIMIT_ENABLED":    "true",
		"RESIGATE_RATE_LIMIT_PER_MINUTE": "120",
		"RESIGATE_RATE_LIMIT_BACKEND":    "redis",
		"RESIGATE_TRUSTED_PROXIES":       "10.0.0.0/8, ,192.0.2.10",
		"RESIGATE_LOG_LEVEL":             "debug",
		"RESIGATE_AUDIT_LOG_PATH":        "/var/log/resigate/audit.log",
		"RESIGATE_OTEL_ENABLED":          "true",
		"RESIGATE_OTEL_ENDPOINT":         "collector:4317",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != "9000" || cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Store.Type != StorePostgres {
		t.Errorf("Store.Type = %s, want postgres", cfg.Store.Type)
	}
	if cfg.Store.RedisPoolSize != 32 {
		t.Errorf("RedisPoolSize = %d, want 32", cfg.Store.RedisPoolSize)
	}
	if cfg.RBAC.CatalogPath != "/etc/resigate/catalog.yaml" || cfg.RBAC.StrictOverrides || cfg.RBAC.WriteRetries != 5 {
		t.Errorf("unexpected rbac config: %+v", cfg.RBAC)
	}
	if cfg.Auth.StaticTokens != "rg_a=admin" {
		t.Errorf("StaticTokens = %q", cfg.Auth.StaticTokens)
	}
	if !cfg.Promotion.Enabled || cfg.Promotion.Schedule != "*/15 * * * *" {
		t.Errorf("unexpected promotion config: %+v", cfg.Promotion)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.RequestsPerMinute != 120 || cfg.RateLimit.Backend != StoreRedis {
		t.Errorf("unexpected rate limit config: %+v", cfg.RateLimit)
	}
	if len(cfg.RateLimit.TrustedProxies) != 2 || cfg.RateLimit.TrustedProxies[1] != "192.0.2.10" {
		t.Errorf("TrustedProxies = %v", cfg.RateLimit.TrustedProxies)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("LogLevel = %v, want debug", cfg.Observability.LogLevel)
	}
	if !cfg.Observability.OTelEnabled || cfg.Observability.OTelEndpoint != "collector:4317" {
		t.Errorf("unexpected otel config: %+v", cfg.Observability)
	}
}

// TestConfigValidate covers each validation rule
func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:    ServerConfig{Port: "8080", HealthPort: "9090"},
			Store:     StoreConfig{Type: StoreMemory},
			RBAC:      RBACConfig{StrictOverrides: true, WriteRetries: 3},
			Promotion: PromotionConfig{Schedule: "@every 1h"},
			RateLimit: RateLimitConfig{RequestsPerMinute: 60, Backend: StoreMemory},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid memory config", func(c *Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"missing health port", func(c *Config) { c.Server.HealthPort = "" }, "health port is required"},
		{"same ports", func(c *Config) { c.Server.HealthPort = "8080" }, "must be different"},
		{"postgres without url", func(c *Config) { c.Store.Type = StorePostgres }, "postgres URL is required"},
		{"postgres with url", func(c *Config) {
			c.Store.Type = StorePostgres
			c.Store.PostgresURL = "postgres://db/resigate"
		}, ""},
		{"redis without url", func(c *Config) { c.Store.Type = StoreRedis }, "redis URL is required"},
		{"unknown store", func(c *Config) { c.Store.Type = "sqlite" }, "invalid store type"},
		{"malformed tokens", func(c *Config) { c.Auth.StaticTokens = "rg_a=admin,broken" }, "invalid API tokens"},
		{"negative retries", func(c *Config) { c.RBAC.WriteRetries = -1 }, "must not be negative"},
		{"bad promotion schedule", func(c *Config) {
			c.Promotion.Enabled = true
			c.Promotion.Schedule = "whenever"
		}, "invalid promotion schedule"},
		{"bad schedule ignored when disabled", func(c *Config) { c.Promotion.Schedule = "whenever" }, ""},
		{"zero rate limit", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.RequestsPerMinute = 0
		}, "rate limit must be positive"},
		{"redis limiter without url", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.Backend = StoreRedis
		}, "redis rate limiter"},
		{"unknown limiter backend", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.Backend = "etcd"
		}, "invalid rate limit backend"},
		{"bad trusted proxy", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.TrustedProxies = []string{"10.0.0.0/8", "lb.internal"}
		}, "invalid trusted proxies"},
		{"trusted proxies", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.10"}
		}, ""},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "resigate"
		}, "endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestLoadConfigInvalid checks that LoadConfig surfaces validation errors
func TestLoadConfigInvalid(t *testing.T) {
	t.Setenv("RESIGATE_STORE_TYPE", "redis")

	_, err := LoadConfig()
	if err == nil || !strings.Contains(err.Error(), "configuration validation failed") {
		t.Errorf("LoadConfig() error = %v", err)
	}
}
