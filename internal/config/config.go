package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const minSessionSecretLen = 32

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"Amplio"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	CORSOrigins    []string      `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`

	Session    SessionConfig
	Challenge  ChallengeConfig
	Verify     VerifyConfig
	SMTP       SMTPConfig
	Kafka      KafkaConfig
	Onboarding OnboardingConfig

	PersistenceTimeout time.Duration `env:"PERSISTENCE_TIMEOUT" envDefault:"3s"`
}

// SessionConfig controls the signed session credential.
type SessionConfig struct {
	Secret       string        `env:"SESSION_SECRET"`
	TTL          time.Duration `env:"SESSION_TTL" envDefault:"1h"`
	CookieName   string        `env:"SESSION_COOKIE_NAME" envDefault:"AmplioAT"`
	CookieSecure bool          `env:"SESSION_COOKIE_SECURE" envDefault:"false"`
	Issuer       string        `env:"SESSION_ISSUER" envDefault:"amplio-onboard"`
}

// ChallengeConfig controls one-time code issuance.
type ChallengeConfig struct {
	TTL             time.Duration `env:"CHALLENGE_TTL" envDefault:"120s"`
	CodeLength      int           `env:"OTP_LENGTH" envDefault:"6"`
	RateLimitPerMin int           `env:"CHALLENGE_RATE_LIMIT_PER_MIN" envDefault:"5"`
}

// VerifyConfig points at the external verification provider used for phone codes.
type VerifyConfig struct {
	BaseURL       string        `env:"VERIFY_BASE_URL" envDefault:"https://verify.twilio.com/v2"`
	AccountSID    string        `env:"VERIFY_ACCOUNT_SID"`
	AuthToken     string        `env:"VERIFY_AUTH_TOKEN"`
	ServiceSID    string        `env:"VERIFY_SERVICE_SID"`
	Timeout       time.Duration `env:"VERIFY_TIMEOUT" envDefault:"5s"`
	CountryPrefix string        `env:"PHONE_COUNTRY_PREFIX" envDefault:"+91"`
}

// Enabled reports whether provider credentials are present.
func (v VerifyConfig) Enabled() bool {
	return v.AccountSID != "" && v.AuthToken != "" && v.ServiceSID != ""
}

// SMTPConfig configures email delivery of codes. An empty Addr logs codes
// instead, which is only allowed in development.
type SMTPConfig struct {
	Addr     string `env:"SMTP_ADDR"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM" envDefault:"no-reply@amplio.local"`
}

// KafkaConfig configures onboarding event publication. No brokers means log-only.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"onboarding.events"`
}

// OnboardingConfig holds onboarding policy knobs.
type OnboardingConfig struct {
	// MaxKYCSubmissions caps document submissions per identity; zero means unlimited.
	MaxKYCSubmissions int `env:"KYC_MAX_SUBMISSIONS" envDefault:"0"`
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.AppEnv = strings.ToLower(cfg.AppEnv)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	if c.Challenge.TTL <= 0 {
		return fmt.Errorf("CHALLENGE_TTL must be positive")
	}
	if c.Challenge.CodeLength < 4 || c.Challenge.CodeLength > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.IsDevelopment() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	if len(c.Session.Secret) < minSessionSecretLen {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes when APP_ENV=%s", minSessionSecretLen, c.AppEnv)
	}
	if !c.Verify.Enabled() {
		return fmt.Errorf("VERIFY_ACCOUNT_SID, VERIFY_AUTH_TOKEN and VERIFY_SERVICE_SID must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.SMTP.Addr == "" {
		return fmt.Errorf("SMTP_ADDR must be set when APP_ENV=%s", c.AppEnv)
	}
	return nil
}

// IsDevelopment reports whether the deployment generates and matches codes locally.
func (c Config) IsDevelopment() bool {
	switch c.AppEnv {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
