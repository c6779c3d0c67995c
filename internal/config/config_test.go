package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 120*time.Second, cfg.Challenge.TTL)
	assert.Equal(t, 6, cfg.Challenge.CodeLength)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, "AmplioAT", cfg.Session.CookieName)
	assert.Equal(t, 0, cfg.Onboarding.MaxKYCSubmissions)
}

func TestLoadRequiresRedis(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("REDIS_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadProductionRequiresProvider(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DATABASE_URL", "postgres://localhost/onboard")
	t.Setenv("SESSION_SECRET", "0123456789abcdef0123456789abcdef")

	_, err := Load()
	require.ErrorContains(t, err, "VERIFY_ACCOUNT_SID")

	t.Setenv("VERIFY_ACCOUNT_SID", "AC123")
	t.Setenv("VERIFY_AUTH_TOKEN", "token")
	t.Setenv("VERIFY_SERVICE_SID", "VA123")
	t.Setenv("SMTP_ADDR", "smtp.amplio.local:587")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadProductionRejectsShortSecret(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DATABASE_URL", "postgres://localhost/onboard")
	t.Setenv("SESSION_SECRET", "short")

	_, err := Load()
	require.ErrorContains(t, err, "SESSION_SECRET")
}

func TestLoadProductionRequiresSMTP(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DATABASE_URL", "postgres://localhost/onboard")
	t.Setenv("SESSION_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("VERIFY_ACCOUNT_SID", "AC123")
	t.Setenv("VERIFY_AUTH_TOKEN", "token")
	t.Setenv("VERIFY_SERVICE_SID", "VA123")
	t.Setenv("SMTP_ADDR", "")

	_, err := Load()
	require.ErrorContains(t, err, "SMTP_ADDR")
}
