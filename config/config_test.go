package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bakery-ops/config"
)

func TestLoadEnv_Defaults(t *testing.T) {
	cfg := config.LoadEnv()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, 10*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 12*time.Hour, cfg.JWT.TTL)
	assert.False(t, cfg.Redis.Revocation)
	assert.False(t, cfg.Reconcile.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnv_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "3000")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("STORE_TIMEOUT", "250ms")
	t.Setenv("REVOCATION_BACKEND", "redis")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("RECONCILE_ENABLED", "true")
	t.Setenv("CORS_ORIGINS", "https://ops.example.com, https://shop.example.com,")
	t.Setenv("JWT_TTL", "not-a-duration")

	cfg := config.LoadEnv()

	assert.Equal(t, 3000, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Store.Timeout)
	assert.True(t, cfg.Redis.Revocation)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.True(t, cfg.Reconcile.Enabled)
	assert.Equal(t, []string{"https://ops.example.com", "https://shop.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 12*time.Hour, cfg.JWT.TTL, "unparseable values fall back to the default")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
		ok     bool
	}{
		{"defaults", func(c *config.Config) {}, true},
		{"unknown backend", func(c *config.Config) { c.Store.Backend = "postgres" }, false},
		{"bad port", func(c *config.Config) { c.Server.HTTPPort = 70000 }, false},
		{"production needs a real secret", func(c *config.Config) { c.Server.AppEnv = "production" }, false},
		{"production with secret", func(c *config.Config) {
			c.Server.AppEnv = "production"
			c.JWT.Secret = "0123456789abcdef0123456789abcdef"
		}, true},
		{"half a bootstrap admin", func(c *config.Config) { c.Bootstrap.AdminEmail = "admin@example.com" }, false},
		{"reconcile without interval", func(c *config.Config) {
			c.Reconcile.Enabled = true
			c.Reconcile.Interval = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.LoadEnv()
			tt.mutate(cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := config.NewLogger(config.LoggerConfig{Level: "info", Encoding: "json"}, true)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = config.NewLogger(config.LoggerConfig{Level: "loud", Encoding: "json"}, false)
	assert.Error(t, err)
}
