package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_STORE", "")
	t.Setenv("NOTIFY_CHANNELS", "")
	t.Setenv("CIRCULATION_MAX_ATTEMPTS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.App.Store)
	assert.Equal(t, []string{"log"}, cfg.Notification.Channels)
	assert.Equal(t, 2, cfg.Circulation.MaxAttempts)
	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("NOTIFY_CHANNELS", " Log, redis ")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("CIRCULATION_RETRY_BASE_DELAY_MS", "20")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, []string{"log", "redis"}, cfg.Notification.Channels)
	assert.True(t, cfg.Notification.HasChannel("redis"))
	assert.False(t, cfg.Notification.HasChannel("outbox"))
	assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, int64(20e6), cfg.Circulation.BaseDelay().Nanoseconds())
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestLoad_InvalidRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "primary")
	_, err := Load()
	assert.ErrorContains(t, err, "invalid REDIS_DB")
}

func TestValidate(t *testing.T) {
	t.Setenv("REDIS_DB", "")

	t.Run("postgres needs dsn", func(t *testing.T) {
		t.Setenv("APP_STORE", "postgres")
		t.Setenv("POSTGRES_DSN", "")
		_, err := Load()
		assert.ErrorContains(t, err, "POSTGRES_DSN is required")
	})

	t.Run("unknown store", func(t *testing.T) {
		t.Setenv("APP_STORE", "sqlite")
		_, err := Load()
		assert.ErrorContains(t, err, "APP_STORE must be memory or postgres")
	})

	t.Run("unknown channel", func(t *testing.T) {
		t.Setenv("APP_STORE", "memory")
		t.Setenv("NOTIFY_CHANNELS", "sms")
		_, err := Load()
		assert.ErrorContains(t, err, `unknown notification channel "sms"`)
	})

	t.Run("outbox needs dsn", func(t *testing.T) {
		t.Setenv("APP_STORE", "memory")
		t.Setenv("POSTGRES_DSN", "")
		t.Setenv("NOTIFY_CHANNELS", "outbox")
		_, err := Load()
		assert.ErrorContains(t, err, "outbox")
	})

	t.Run("attempts", func(t *testing.T) {
		t.Setenv("NOTIFY_CHANNELS", "")
		t.Setenv("CIRCULATION_MAX_ATTEMPTS", "0")
		_, err := Load()
		assert.ErrorContains(t, err, "CIRCULATION_MAX_ATTEMPTS")
	})

	t.Run("relay", func(t *testing.T) {
		t.Setenv("NOTIFY_CHANNELS", "")
		t.Setenv("NOTIFY_RELAY_BATCH", "-1")
		_, err := Load()
		assert.ErrorContains(t, err, "NOTIFY_RELAY_BATCH")
	})
}
