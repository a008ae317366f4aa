package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv        string
	EncryptionKey string

	// Storage. An empty DatabaseURL selects SQLite at SQLitePath.
	DatabaseURL      string
	SQLitePath       string
	DatabaseMaxConns int
	MongoDatabase    string

	// Redis serializes sweeps across workers.
	RedisURL string

	// RabbitMQ
	RabbitMQURL string

	// Gateway
	GatewayURL              string
	GatewayPublicID         string
	GatewayAPISecret        string
	GatewayTimeout          time.Duration
	GatewaySimulated        bool
	GatewayBreakerThreshold int
	GatewayBreakerCooldown  time.Duration

	// Billing
	StarterBalance      int64
	SweepConcurrency    int
	SweepLockTTL        time.Duration
	DailyGrantInterval  time.Duration
	RetrySweepInterval  time.Duration
	ExpirySweepInterval time.Duration

	// Outbox
	OutboxPollInterval     time.Duration
	OutboxBatchSize        int
	OutboxMaxRetries       int
	OutboxStatsInterval    time.Duration
	OutboxRetentionDays    int
	OutboxCleanupInterval  time.Duration
	OutboxProcessorEnabled bool

	// Worker
	WorkerHealthAddr string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		EncryptionKey: getEnv("VOLTAGE_ENCRYPTION_KEY", ""),

		DatabaseURL:      getEnv("DATABASE_URL", ""),
		SQLitePath:       getEnv("SQLITE_PATH", ""),
		DatabaseMaxConns: getIntEnv("DATABASE_MAX_CONNS", 10),
		MongoDatabase:    getEnv("MONGO_DATABASE", "voltage"),

		RedisURL:    getEnv("REDIS_URL", ""),
		RabbitMQURL: getEnv("RABBITMQ_URL", ""),

		GatewayURL:              getEnv("GATEWAY_URL", "https://api.cloudpayments.ru"),
		GatewayPublicID:         getEnv("GATEWAY_PUBLIC_ID", ""),
		GatewayAPISecret:        getEnv("GATEWAY_API_SECRET", ""),
		GatewayTimeout:          getDurationEnv("GATEWAY_TIMEOUT", 30*time.Second),
		GatewaySimulated:        getBoolEnv("GATEWAY_SIMULATED", false),
		GatewayBreakerThreshold: getIntEnv("GATEWAY_BREAKER_THRESHOLD", 5),
		GatewayBreakerCooldown:  getDurationEnv("GATEWAY_BREAKER_COOLDOWN", 30*time.Second),

		StarterBalance:      int64(getIntEnv("STARTER_BALANCE", 3)),
		SweepConcurrency:    getIntEnv("SWEEP_CONCURRENCY", 8),
		SweepLockTTL:        getDurationEnv("SWEEP_LOCK_TTL", 10*time.Minute),
		DailyGrantInterval:  getDurationEnv("DAILY_GRANT_INTERVAL", 24*time.Hour),
		RetrySweepInterval:  getDurationEnv("RETRY_SWEEP_INTERVAL", 30*time.Minute),
		ExpirySweepInterval: getDurationEnv("EXPIRY_SWEEP_INTERVAL", time.Hour),

		OutboxPollInterval:     getDurationEnv("OUTBOX_POLL_INTERVAL", 100*time.Millisecond),
		OutboxBatchSize:        getIntEnv("OUTBOX_BATCH_SIZE", 100),
		OutboxMaxRetries:       getIntEnv("OUTBOX_MAX_RETRIES", 5),
		OutboxStatsInterval:    getDurationEnv("OUTBOX_STATS_INTERVAL", 30*time.Second),
		OutboxRetentionDays:    getIntEnv("OUTBOX_RETENTION_DAYS", 14),
		OutboxCleanupInterval:  getDurationEnv("OUTBOX_CLEANUP_INTERVAL", 24*time.Hour),
		OutboxProcessorEnabled: getBoolEnv("OUTBOX_PROCESSOR_ENABLED", true),

		WorkerHealthAddr: getEnv("WORKER_HEALTH_ADDR", "0.0.0.0:8081"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.StarterBalance < 0 {
		return fmt.Errorf("STARTER_BALANCE must not be negative, got %d", c.StarterBalance)
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %s", c.GatewayTimeout)
	}
	if !c.GatewaySimulated && c.IsProduction() && (c.GatewayPublicID == "" || c.GatewayAPISecret == "") {
		return fmt.Errorf("GATEWAY_PUBLIC_ID and GATEWAY_API_SECRET are required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
