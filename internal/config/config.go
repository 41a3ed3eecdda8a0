package config // package config loads application configuration from environment variables

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends accepted by STORE_BACKEND.
const (
	BackendRedis = "redis"
	BackendMySQL = "mysql"
)

// Token lifetime bounds enforced on TOKEN_TTL.
const (
	MinTokenTTL = time.Hour
	MaxTokenTTL = 7 * 24 * time.Hour
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable; see Load for names and defaults.
type Config struct {
	Env     string // application environment (e.g. "dev", "prod")
	Port    string // HTTP port to listen on
	Backend string // kv backend, BackendRedis or BackendMySQL

	Redis RedisConfig
	DB    DBConfig

	JWTSecret      string        // token signing secret; empty means generate one at startup
	TokenTTL       time.Duration // session token lifetime
	BcryptCost     int           // bcrypt cost for password hashing
	PasswordPepper string        // install-wide pepper mixed into password hashes

	Location       *time.Location // zone that decides what "today" is
	RequestTimeout time.Duration  // store timeout per request
	KVTxRetries    int            // optimistic transaction retries

	AMQPURL string // RabbitMQ URL; empty disables domain events

	LogLevel  string
	LogFormat string

	RateLimit RateLimitConfig
}

// DBConfig holds the MySQL connection settings.
type DBConfig struct {
	User string
	Pass string // empty allowed
	Host string
	Port string
	Name string
}

// Load reads configuration from the environment.  A .env file in the
// working directory is loaded first when present; variables already set in
// the environment win.  Every invalid or missing required value is reported
// in the returned error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	env := &envReader{}
	cfg := Config{
		Env:     envStr("APP_ENV", "dev"),
		Port:    envStr("APP_PORT", "8000"),
		Backend: strings.ToLower(envStr("STORE_BACKEND", BackendRedis)),
		Redis:   loadRedisConfig(env),
		DB: DBConfig{
			User: os.Getenv("DB_USER"),
			Pass: os.Getenv("DB_PASS"),
			Host: envStr("DB_HOST", "localhost"),
			Port: envStr("DB_PORT", "3306"),
			Name: os.Getenv("DB_NAME"),
		},
		JWTSecret:      os.Getenv("JWT_SECRET"),
		TokenTTL:       env.dur("TOKEN_TTL", 24*time.Hour),
		BcryptCost:     env.int("BCRYPT_COST", 10),
		PasswordPepper: os.Getenv("PASSWORD_PEPPER"),
		RequestTimeout: env.dur("REQUEST_TIMEOUT", 5*time.Second),
		KVTxRetries:    env.int("KV_TX_RETRIES", 16),
		AMQPURL:        envStr("AMQP_URL", os.Getenv("RABBITMQ_URL")),
		LogLevel:       strings.ToLower(envStr("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(envStr("LOG_FORMAT", "text")),
		RateLimit:      loadRateLimitConfig(env),
	}

	errs := env.errs
	loc, err := time.LoadLocation(envStr("APP_TIMEZONE", "UTC"))
	if err != nil {
		errs = append(errs, fmt.Errorf("APP_TIMEZONE: %w", err))
		loc = time.UTC
	}
	cfg.Location = loc

	switch cfg.Backend {
	case BackendRedis:
	case BackendMySQL:
		if cfg.DB.User == "" {
			errs = append(errs, errors.New("missing required env var: DB_USER"))
		}
		if cfg.DB.Name == "" {
			errs = append(errs, errors.New("missing required env var: DB_NAME"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND: unknown backend %q", cfg.Backend))
	}
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET: must be at least 32 bytes"))
	}
	if cfg.TokenTTL < MinTokenTTL || cfg.TokenTTL > MaxTokenTTL {
		errs = append(errs, fmt.Errorf("TOKEN_TTL: %s outside [%s, %s]", cfg.TokenTTL, MinTokenTTL, MaxTokenTTL))
	}
	if cfg.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT: must be positive"))
	}
	if cfg.KVTxRetries < 0 {
		errs = append(errs, errors.New("KV_TX_RETRIES: must not be negative"))
	}
	if cfg.Port == "" {
		errs = append(errs, errors.New("APP_PORT: must not be empty"))
	}
	return cfg, errors.Join(errs...)
}
