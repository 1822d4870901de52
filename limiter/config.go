package limiter

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Config is the bucket policy shared by every identity of a Limiter.
type Config struct {
	Namespace      string        `yaml:"namespace" env:"NAMESPACE"`             // key prefix, keys are "<namespace>:<identity>"
	MaxTokens      int64         `yaml:"max_tokens" env:"MAX_TOKENS"`           // bucket capacity
	RefillInterval time.Duration `yaml:"refill_interval" env:"REFILL_INTERVAL"` // one token is credited per full interval
	TTL            time.Duration `yaml:"ttl" env:"TTL"`                         // idle buckets expire after this long
}

// DefaultConfig returns the policy the service ships with: 10 tokens, one
// token per hour, buckets expire after a week without traffic.
func DefaultConfig() Config {
	return Config{
		Namespace:      DefaultNamespace,
		MaxTokens:      DefaultMaxTokens,
		RefillInterval: DefaultRefillInterval,
		TTL:            DefaultTTL,
	}
}

// Validate checks the policy. An empty namespace falls back to DefaultNamespace.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		log.Debug().Str("namespace", DefaultNamespace).Msg("empty bucket namespace, using default")
		c.Namespace = DefaultNamespace
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive, got %d", ErrInvalidConfig, c.MaxTokens)
	}
	if c.RefillInterval < time.Millisecond {
		return fmt.Errorf("%w: refill_interval must be at least 1ms, got %s", ErrInvalidConfig, c.RefillInterval)
	}
	if c.RefillInterval%time.Millisecond != 0 {
		return fmt.Errorf("%w: refill_interval must be a whole number of milliseconds, got %s", ErrInvalidConfig, c.RefillInterval)
	}
	if c.TTL < time.Second {
		return fmt.Errorf("%w: ttl must be at least 1s, got %s", ErrInvalidConfig, c.TTL)
	}
	return nil
}

// intervalMs is the refill interval in whole milliseconds.
func (c Config) intervalMs() int64 {
	return c.RefillInterval.Milliseconds()
}

// ttlSeconds is the TTL rounded up to whole seconds, as EXPIRE expects.
func (c Config) ttlSeconds() int64 {
	secs := int64(c.TTL / time.Second)
	if c.TTL%time.Second != 0 {
		secs++
	}
	return secs
}
