/*
Package config reads server settings from the environment.

A .env file in the working directory is loaded first when present; real
environment variables win over it. Every key has a default so a bare
`./server` starts an in-memory development instance.

KEYS:
  APP_ENV                  dev | production
  HTTP_PORT                8080
  STORE_BACKEND            sqlite | memory
  SQLITE_PATH              bakery.db
  STORE_TIMEOUT            10s   per-call store deadline
  LOGGER_LEVEL             debug | info | warn | error
  LOGGER_ENCODING          console | json
  JWT_SECRET, JWT_TTL      token signing key, session lifetime
  REVOCATION_BACKEND       memory | redis
  REDIS_ADDR, REDIS_PASSWORD, REDIS_DB
  RECONCILE_ENABLED        run drift reconciliation periodically (false)
  RECONCILE_INTERVAL       1h
  CORS_ORIGINS             comma separated
  BOOTSTRAP_ADMIN_EMAIL, BOOTSTRAP_ADMIN_PASSWORD
*/
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

type Config struct {
	Server    ServerConfig
	Logger    LoggerConfig
	Store     StoreConfig
	JWT       JWTConfig
	Redis     RedisConfig
	Reconcile ReconcileConfig
	Bootstrap BootstrapConfig
}

type ServerConfig struct {
	AppEnv      string
	HTTPPort    int
	CORSOrigins []string
}

type LoggerConfig struct {
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
}

type StoreConfig struct {
	Backend    string
	SQLitePath string
	Timeout    time.Duration
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	Revocation bool // REVOCATION_BACKEND=redis
}

type ReconcileConfig struct {
	Enabled  bool
	Interval time.Duration
}

type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
}

const devSecret = "dev-secret-change-this-in-production"

// Load reads .env (if present) and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := LoadEnv()
	return cfg, cfg.Validate()
}

func LoadEnv() *Config {
	return &Config{
		Server: ServerConfig{
			AppEnv:      getEnv("APP_ENV", "dev"),
			HTTPPort:    getEnvInt("HTTP_PORT", 8080),
			CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"*"}),
		},
		Logger: LoggerConfig{
			Level:             getEnv("LOGGER_LEVEL", "debug"),
			Encoding:          getEnv("LOGGER_ENCODING", "console"),
			DisableCaller:     getEnvBool("LOGGER_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOGGER_DISABLE_STACKTRACE", true),
		},
		Store: StoreConfig{
			Backend:    getEnv("STORE_BACKEND", "sqlite"),
			SQLitePath: getEnv("SQLITE_PATH", "bakery.db"),
			Timeout:    getEnvDuration("STORE_TIMEOUT", 10*time.Second),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", devSecret),
			TTL:    getEnvDuration("JWT_TTL", 12*time.Hour),
		},
		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", "localhost:6379"),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getEnvInt("REDIS_DB", 0),
			Revocation: getEnv("REVOCATION_BACKEND", "memory") == "redis",
		},
		Reconcile: ReconcileConfig{
			Enabled:  getEnvBool("RECONCILE_ENABLED", false),
			Interval: getEnvDuration("RECONCILE_INTERVAL", time.Hour),
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:    getEnv("BOOTSTRAP_ADMIN_EMAIL", ""),
			AdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
	}
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return c.Server.AppEnv == "production" || c.Server.AppEnv == "prod"
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be sqlite or memory, got %q", c.Store.Backend))
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT out of range: %d", c.Server.HTTPPort))
	}
	if c.Store.Timeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.JWT.TTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	if c.IsProduction() && (c.JWT.Secret == devSecret || len(c.JWT.Secret) < 32) {
		errs = append(errs, errors.New("JWT_SECRET must be set to at least 32 characters in production"))
	}
	if c.Reconcile.Enabled && c.Reconcile.Interval <= 0 {
		errs = append(errs, errors.New("RECONCILE_INTERVAL must be positive"))
	}
	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		errs = append(errs, errors.New("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD go together"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return fallback
}
