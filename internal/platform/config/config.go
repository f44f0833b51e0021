// Package config builds runtime configuration from environment variables so
// main stays lean. Every knob has a development default; production deploys
// override via TALLY_* variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything cmd/server needs to wire the engine.
type Config struct {
	Addr string

	// PostgresDSN selects the durable stores; empty means in-memory stores.
	PostgresDSN string

	// RedisURL enables the fast-path webhook dedup claim; empty disables it.
	RedisURL string
	Redis    RedisConfig

	// KafkaBrokers enables the audit outbox publisher; empty keeps audit
	// entries local to the store.
	KafkaBrokers []string
	AuditTopic   string

	// WebhookSecret is the shared HMAC key the payment processor signs
	// notifications with.
	WebhookSecret string

	// JWTSigningKey verifies actor bearer tokens on the refund surface.
	JWTSigningKey string

	// LimitsPath points at a JSON window table replacing the built-in limit
	// defaults; empty keeps limits.DefaultConfig.
	LimitsPath string

	Gateway GatewayConfig
}

// RedisConfig mirrors the connection tuning the platform redis client applies.
type RedisConfig struct {
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// GatewayConfig bounds every external processor call.
type GatewayConfig struct {
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:          envOr("TALLY_ADDR", ":8080"),
		PostgresDSN:   os.Getenv("TALLY_POSTGRES_DSN"),
		RedisURL:      os.Getenv("TALLY_REDIS_URL"),
		AuditTopic:    envOr("TALLY_AUDIT_TOPIC", "tally.audit.v1"),
		WebhookSecret: envOr("TALLY_WEBHOOK_SECRET", "dev-webhook-secret"),
		JWTSigningKey: envOr("TALLY_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		LimitsPath:    os.Getenv("TALLY_LIMITS_PATH"),
		Redis: RedisConfig{
			PoolSize:     envInt("TALLY_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("TALLY_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("TALLY_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("TALLY_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("TALLY_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Gateway: GatewayConfig{
			Timeout:    envDuration("TALLY_GATEWAY_TIMEOUT", 10*time.Second),
			MaxRetries: envInt("TALLY_GATEWAY_MAX_RETRIES", 3),
			RetryBase:  envDuration("TALLY_GATEWAY_RETRY_BASE", 250*time.Millisecond),
		},
	}

	if brokers := os.Getenv("TALLY_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
