// Package config assembles the daemon configuration from built-in defaults,
// an optional YAML file and BUCKET_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/Svaan1/woovi-leaky-bucket/limiter"
)

// EnvPrefix prefixes every environment variable the daemon reads.
const EnvPrefix = "BUCKET_"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the daemon configuration.
type Config struct {
	HTTPAddr        string         `yaml:"http_addr" env:"HTTP_ADDR"`
	LogLevel        string         `yaml:"log_level" env:"LOG_LEVEL"`
	LogPretty       bool           `yaml:"log_pretty" env:"LOG_PRETTY"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	Store           Store          `yaml:"store" envPrefix:"STORE_"`
	Bucket          limiter.Config `yaml:"bucket" envPrefix:"LIMIT_"`
	PixKeys         []string       `yaml:"pix_keys" env:"PIX_KEYS"` // keys a pix query accepts
}

// Store selects and configures the bucket store.
type Store struct {
	Type           string        `yaml:"type" env:"TYPE"` // memory, redis or redis-lock
	RedisURL       string        `yaml:"redis_url" env:"REDIS_URL"`
	LockTTL        time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
	LockRetryDelay time.Duration `yaml:"lock_retry_delay" env:"LOCK_RETRY_DELAY"`
	LockMaxRetries int           `yaml:"lock_max_retries" env:"LOCK_MAX_RETRIES"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		HTTPAddr:        ":8080",
		LogLevel:        zerolog.InfoLevel.String(),
		ShutdownTimeout: 10 * time.Second,
		Store: Store{
			Type:           limiter.StoreRedis,
			RedisURL:       "redis://localhost:6379/0",
			LockTTL:        time.Second,
			LockRetryDelay: 10 * time.Millisecond,
			LockMaxRetries: 100,
		},
		Bucket:  limiter.DefaultConfig(),
		PixKeys: []string{"valid-key", "123-456"},
	}
}

// Load reads .env (if present), then the YAML file at path (skipped when
// path is empty), then the environment, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Debug().Str("store", cfg.Store.Type).Str("addr", cfg.HTTPAddr).Msg("configuration loaded")
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// Validate checks the configuration and normalizes the bucket policy.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("%w: http_addr is required", ErrInvalid)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalid, err)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown_timeout must be positive", ErrInvalid)
	}

	switch c.Store.Type {
	case limiter.StoreMemory:
	case limiter.StoreRedis, limiter.StoreRedisLock:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("%w: store.redis_url is required for store type %q", ErrInvalid, c.Store.Type)
		}
	default:
		return fmt.Errorf("%w: unknown store type %q", ErrInvalid, c.Store.Type)
	}

	if err := c.Bucket.Validate(); err != nil {
		return fmt.Errorf("%w: bucket: %w", ErrInvalid, err)
	}
	return nil
}
