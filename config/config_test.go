package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Svaan1/woovi-leaky-bucket/limiter"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, limiter.StoreRedis, cfg.Store.Type)
	assert.Equal(t, limiter.DefaultConfig(), cfg.Bucket)
	assert.Equal(t, []string{"valid-key", "123-456"}, cfg.PixKeys)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
http_addr: ":9090"
log_level: debug
store:
  type: redis-lock
  redis_url: redis://cache:6379/1
  lock_ttl: 2s
bucket:
  namespace: pix
  max_tokens: 5
  refill_interval: 30m
  ttl: 24h
pix_keys: [a, b]
`)
	t.Setenv("BUCKET_LIMIT_MAX_TOKENS", "20")
	t.Setenv("BUCKET_PIX_KEYS", "x,y,z")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, limiter.StoreRedisLock, cfg.Store.Type)
	assert.Equal(t, "redis://cache:6379/1", cfg.Store.RedisURL)
	assert.Equal(t, 2*time.Second, cfg.Store.LockTTL)
	assert.Equal(t, 10*time.Millisecond, cfg.Store.LockRetryDelay, "unset keys keep defaults")

	assert.Equal(t, "pix", cfg.Bucket.Namespace)
	assert.Equal(t, int64(20), cfg.Bucket.MaxTokens, "environment overrides the file")
	assert.Equal(t, 30*time.Minute, cfg.Bucket.RefillInterval)
	assert.Equal(t, 24*time.Hour, cfg.Bucket.TTL)
	assert.Equal(t, []string{"x", "y", "z"}, cfg.PixKeys)
}

func TestLoad_EnvDurations(t *testing.T) {
	t.Setenv("BUCKET_STORE_TYPE", "memory")
	t.Setenv("BUCKET_LIMIT_REFILL_INTERVAL", "1m")
	t.Setenv("BUCKET_SHUTDOWN_TIMEOUT", "3s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, limiter.StoreMemory, cfg.Store.Type)
	assert.Equal(t, time.Minute, cfg.Bucket.RefillInterval)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeFile(t, "store: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"ok", func(c *Config) {}, ""},
		{"memory needs no redis", func(c *Config) { c.Store.Type = limiter.StoreMemory; c.Store.RedisURL = "" }, ""},
		{"empty addr", func(c *Config) { c.HTTPAddr = "" }, "http_addr"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"zero shutdown", func(c *Config) { c.ShutdownTimeout = 0 }, "shutdown_timeout"},
		{"unknown store", func(c *Config) { c.Store.Type = "etcd" }, "unknown store type"},
		{"redis without url", func(c *Config) { c.Store.RedisURL = "" }, "redis_url"},
		{"bad bucket", func(c *Config) { c.Bucket.MaxTokens = 0 }, "max_tokens"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_BucketErrorKeepsSentinel(t *testing.T) {
	cfg := Default()
	cfg.Bucket.RefillInterval = 0

	err := cfg.Validate()
	assert.ErrorIs(t, err, limiter.ErrInvalidConfig)
}
