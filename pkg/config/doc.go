// Package config loads ResiGate configuration from environment variables.
//
// Server settings:
//
//	RESIGATE_HOST="0.0.0.0"
//	RESIGATE_PORT="8080"
//	RESIGATE_HEALTH_PORT="9090"
//	RESIGATE_READ_TIMEOUT="15s"
//	RESIGATE_MAX_BODY_BYTES="1048576"
//
// User store:
//
//	RESIGATE_STORE_TYPE="postgres"  # memory, postgres, redis
//	RESIGATE_POSTGRES_URL="postgres://localhost/resigate?sslmode=disable"
//	RESIGATE_REDIS_URL="redis://localhost:6379/0"
//	RESIGATE_REDIS_POOL_SIZE="10"
//
// Authorization:
//
//	RESIGATE_CATALOG_PATH="/etc/resigate/catalog.yaml"
//	RESIGATE_STRICT_OVERRIDES="true"
//	RESIGATE_WRITE_RETRIES="3"
//	RESIGATE_API_TOKENS="rg_xxx=admin-1,rg_yyy=guard-7"
//	RESIGATE_PROMOTION_ENABLED="true"
//	RESIGATE_PROMOTION_SCHEDULE="@every 1h"
//
// Rate limiting:
//
//	RESIGATE_RATE_LIMIT_ENABLED="true"
//	RESIGATE_RATE_LIMIT_PER_MINUTE="600"
//	RESIGATE_RATE_LIMIT_BACKEND="redis"  # memory, redis
//
// Observability:
//
//	RESIGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	RESIGATE_METRICS_ENABLED="true"
//	RESIGATE_AUDIT_LOG_PATH="/var/log/resigate/audit.log"
//	RESIGATE_OTEL_ENABLED="true"
//	RESIGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// Load and validate:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
