package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnvVars blanks every variable Load reads for the duration of the test.
func clearEnvVars(t *testing.T) {
	t.Helper()
	envVars := []string{
		"APP_ENV", "VOLTAGE_LOG_LEVEL", "VOLTAGE_ENCRYPTION_KEY",
		"DATABASE_URL", "SQLITE_PATH", "DATABASE_MAX_CONNS", "MONGO_DATABASE",
		"REDIS_URL", "RABBITMQ_URL",
		"GATEWAY_URL", "GATEWAY_PUBLIC_ID", "GATEWAY_API_SECRET", "GATEWAY_TIMEOUT",
		"GATEWAY_SIMULATED", "GATEWAY_BREAKER_THRESHOLD", "GATEWAY_BREAKER_COOLDOWN",
		"STARTER_BALANCE", "SWEEP_CONCURRENCY", "SWEEP_LOCK_TTL",
		"DAILY_GRANT_INTERVAL", "RETRY_SWEEP_INTERVAL", "EXPIRY_SWEEP_INTERVAL",
		"OUTBOX_POLL_INTERVAL", "OUTBOX_BATCH_SIZE", "OUTBOX_MAX_RETRIES",
		"OUTBOX_STATS_INTERVAL", "OUTBOX_RETENTION_DAYS", "OUTBOX_CLEANUP_INTERVAL",
		"OUTBOX_PROCESSOR_ENABLED", "WORKER_HEALTH_ADDR",
	}
	for _, v := range envVars {
		t.Setenv(v, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnvVars(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Application defaults
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Empty(t, cfg.EncryptionKey)

	// Storage defaults to local SQLite
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.SQLitePath)
	assert.Equal(t, 10, cfg.DatabaseMaxConns)
	assert.Equal(t, "voltage", cfg.MongoDatabase)
	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.RabbitMQURL)

	// Gateway defaults
	assert.Equal(t, "https://api.cloudpayments.ru", cfg.GatewayURL)
	assert.Equal(t, 30*time.Second, cfg.GatewayTimeout)
	assert.False(t, cfg.GatewaySimulated)
	assert.Equal(t, 5, cfg.GatewayBreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.GatewayBreakerCooldown)

	// Billing defaults
	assert.Equal(t, int64(3), cfg.StarterBalance)
	assert.Equal(t, 8, cfg.SweepConcurrency)
	assert.Equal(t, 10*time.Minute, cfg.SweepLockTTL)
	assert.Equal(t, 24*time.Hour, cfg.DailyGrantInterval)
	assert.Equal(t, 30*time.Minute, cfg.RetrySweepInterval)
	assert.Equal(t, time.Hour, cfg.ExpirySweepInterval)

	// Outbox defaults
	assert.Equal(t, 100*time.Millisecond, cfg.OutboxPollInterval)
	assert.Equal(t, 100, cfg.OutboxBatchSize)
	assert.Equal(t, 5, cfg.OutboxMaxRetries)
	assert.Equal(t, 30*time.Second, cfg.OutboxStatsInterval)
	assert.Equal(t, 14, cfg.OutboxRetentionDays)
	assert.Equal(t, 24*time.Hour, cfg.OutboxCleanupInterval)
	assert.True(t, cfg.OutboxProcessorEnabled)

	// Worker defaults
	assert.Equal(t, "0.0.0.0:8081", cfg.WorkerHealthAddr)
}

func TestLoad_WithCustomEnvVars(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("APP_ENV", "production")
	t.Setenv("VOLTAGE_ENCRYPTION_KEY", "my-secret-key")
	t.Setenv("DATABASE_URL", "mongodb://localhost:27017")
	t.Setenv("GATEWAY_PUBLIC_ID", "pk_live")
	t.Setenv("GATEWAY_API_SECRET", "secret")
	t.Setenv("GATEWAY_TIMEOUT", "5s")
	t.Setenv("STARTER_BALANCE", "10")
	t.Setenv("RETRY_SWEEP_INTERVAL", "5m")
	t.Setenv("OUTBOX_BATCH_SIZE", "200")
	t.Setenv("OUTBOX_PROCESSOR_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.AppEnv)
	assert.Equal(t, "my-secret-key", cfg.EncryptionKey)
	assert.Equal(t, "mongodb://localhost:27017", cfg.DatabaseURL)
	assert.Equal(t, "pk_live", cfg.GatewayPublicID)
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, int64(10), cfg.StarterBalance)
	assert.Equal(t, 5*time.Minute, cfg.RetrySweepInterval)
	assert.Equal(t, 200, cfg.OutboxBatchSize)
	assert.False(t, cfg.OutboxProcessorEnabled)
}

func TestLoad_Validation(t *testing.T) {
	t.Run("negative starter balance", func(t *testing.T) {
		clearEnvVars(t)
		t.Setenv("STARTER_BALANCE", "-1")
		_, err := Load()
		assert.ErrorContains(t, err, "STARTER_BALANCE")
	})

	t.Run("production without gateway credentials", func(t *testing.T) {
		clearEnvVars(t)
		t.Setenv("APP_ENV", "production")
		_, err := Load()
		assert.ErrorContains(t, err, "GATEWAY_PUBLIC_ID")
	})

	t.Run("production with simulated gateway", func(t *testing.T) {
		clearEnvVars(t)
		t.Setenv("APP_ENV", "production")
		t.Setenv("GATEWAY_SIMULATED", "true")
		_, err := Load()
		assert.NoError(t, err)
	})

	t.Run("zero timeout", func(t *testing.T) {
		cfg := &Config{GatewayTimeout: 0}
		assert.Error(t, cfg.Validate())
	})
}

func TestConfig_IsDevelopment(t *testing.T) {
	tests := []struct {
		env      string
		expected bool
	}{
		{"development", true},
		{"production", false},
		{"staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := &Config{AppEnv: tt.env}
			assert.Equal(t, tt.expected, cfg.IsDevelopment())
			assert.Equal(t, tt.env == "production", cfg.IsProduction())
		})
	}
}

func TestGetEnv(t *testing.T) {
	assert.Equal(t, "default", getEnv("NON_EXISTENT_VAR", "default"))

	t.Setenv("TEST_VAR", "custom")
	assert.Equal(t, "custom", getEnv("TEST_VAR", "default"))

	// Empty string falls back to the default
	t.Setenv("TEST_EMPTY", "")
	assert.Equal(t, "default", getEnv("TEST_EMPTY", "default"))
}

func TestGetIntEnv(t *testing.T) {
	assert.Equal(t, 42, getIntEnv("NON_EXISTENT_INT", 42))

	t.Setenv("TEST_INT", "100")
	assert.Equal(t, 100, getIntEnv("TEST_INT", 42))

	t.Setenv("TEST_INVALID_INT", "not-a-number")
	assert.Equal(t, 42, getIntEnv("TEST_INVALID_INT", 42))
}

func TestGetDurationEnv(t *testing.T) {
	assert.Equal(t, 5*time.Second, getDurationEnv("NON_EXISTENT_DUR", 5*time.Second))

	t.Setenv("TEST_DUR", "10m")
	assert.Equal(t, 10*time.Minute, getDurationEnv("TEST_DUR", 5*time.Second))

	t.Setenv("TEST_INVALID_DUR", "not-a-duration")
	assert.Equal(t, 5*time.Second, getDurationEnv("TEST_INVALID_DUR", 5*time.Second))
}

func TestGetBoolEnv(t *testing.T) {
	assert.True(t, getBoolEnv("NON_EXISTENT_BOOL", true))

	for _, tv := range []string{"true", "1", "True", "TRUE"} {
		t.Setenv("TEST_BOOL", tv)
		assert.True(t, getBoolEnv("TEST_BOOL", false), "Expected true for value: %s", tv)
	}
	for _, fv := range []string{"false", "0", "False", "FALSE"} {
		t.Setenv("TEST_BOOL", fv)
		assert.False(t, getBoolEnv("TEST_BOOL", true), "Expected false for value: %s", fv)
	}

	t.Setenv("TEST_INVALID_BOOL", "not-a-bool")
	assert.True(t, getBoolEnv("TEST_INVALID_BOOL", true))
}
