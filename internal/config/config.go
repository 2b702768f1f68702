package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Tracing      TracingConfig
	Notification NotificationConfig
	RateLimit    RateLimitConfig
	Circulation  CirculationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	// Store selects the persistence backend: "memory" or "postgres".
	Store string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int
	MinConns       int
	RunMigrations  bool
	ConnMaxLifeSec int
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// TracingConfig configures the OTLP exporter. An empty endpoint disables export.
type TracingConfig struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// NotificationConfig selects where checkout and return notices go.
type NotificationConfig struct {
	// Channels is any combination of "log", "redis" and "outbox".
	Channels     []string
	EmailFrom    string
	RedisStream  string
	RelayBatch   int
	RelayPollSec int
}

// RateLimitConfig throttles mutating HTTP endpoints.
type RateLimitConfig struct {
	RequestsPerSecond      float64
	Burst                  int
	RegistrationsPerMinute int
}

// CirculationConfig tunes conflict retries.
type CirculationConfig struct {
	MaxAttempts  int
	BaseDelayMS  int
	JitterFactor float64
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "libradesk"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			Store:                 getEnv("APP_STORE", "memory"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       getEnvAsInt("POSTGRES_MAX_CONNS", 10),
			MinConns:       getEnvAsInt("POSTGRES_MIN_CONNS", 2),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxLifeSec: getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure:    getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio: getEnvAsFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0),
		},
		Notification: NotificationConfig{
			Channels:     getEnvAsList("NOTIFY_CHANNELS", []string{"log"}),
			EmailFrom:    getEnv("NOTIFY_EMAIL_FROM", "circulation@library.example"),
			RedisStream:  getEnv("NOTIFY_REDIS_STREAM", "libradesk:notifications"),
			RelayBatch:   getEnvAsInt("NOTIFY_RELAY_BATCH", 100),
			RelayPollSec: getEnvAsInt("NOTIFY_RELAY_POLL_SECONDS", 5),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond:      getEnvAsFloat("RATE_LIMIT_RPS", 50),
			Burst:                  getEnvAsInt("RATE_LIMIT_BURST", 100),
			RegistrationsPerMinute: getEnvAsInt("RATE_LIMIT_REGISTRATIONS_PER_MINUTE", 5),
		},
		Circulation: CirculationConfig{
			MaxAttempts:  getEnvAsInt("CIRCULATION_MAX_ATTEMPTS", 2),
			BaseDelayMS:  getEnvAsInt("CIRCULATION_RETRY_BASE_DELAY_MS", 5),
			JitterFactor: getEnvAsFloat("CIRCULATION_RETRY_JITTER", 0.3),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.App.Store {
	case "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required when APP_STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("APP_STORE must be memory or postgres, got %q", c.App.Store))
	}
	for _, ch := range c.Notification.Channels {
		switch ch {
		case "log", "redis":
		case "outbox":
			if c.Postgres.DSN == "" {
				errs = append(errs, errors.New("POSTGRES_DSN is required for the outbox notification channel"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown notification channel %q", ch))
		}
	}
	if c.Notification.RelayBatch <= 0 || c.Notification.RelayPollSec <= 0 {
		errs = append(errs, errors.New("NOTIFY_RELAY_BATCH and NOTIFY_RELAY_POLL_SECONDS must be positive"))
	}
	if c.Circulation.MaxAttempts <= 0 {
		errs = append(errs, errors.New("CIRCULATION_MAX_ATTEMPTS must be positive"))
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate limit values must not be negative"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACES_SAMPLE_RATIO must be between 0 and 1"))
	}
	return errors.Join(errs...)
}

// HasChannel reports whether the named notification channel is enabled.
func (n NotificationConfig) HasChannel(name string) bool {
	for _, ch := range n.Channels {
		if ch == name {
			return true
		}
	}
	return false
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// BaseDelay returns the retry base delay.
func (c CirculationConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// PollInterval returns how often the relay polls the outbox.
func (n NotificationConfig) PollInterval() time.Duration {
	return time.Duration(n.RelayPollSec) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(strings.ToLower(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
