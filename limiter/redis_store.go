package limiter

import (
	"context"
	_ "embed" // needed for go:embed
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

//go:embed consume.lua
var consumeScriptSource string

//go:embed refund.lua
var refundScriptSource string

// Run tries EVALSHA first and falls back to EVAL when the script cache is
// empty, so a Redis restart does not surface NOSCRIPT errors.
var (
	consumeScript = redis.NewScript(consumeScriptSource)
	refundScript  = redis.NewScript(refundScriptSource)
)

// malformedReply is the error both scripts reply with for undecodable state.
const malformedReply = "ERR malformed bucket state"

// RedisStore implements the Store interface with Lua scripts, so the whole
// read-refill-decide-write cycle runs inside Redis as one atomic step.
// Buckets are hashes with the fields "tokens" and "last_refill_ms".
type RedisStore struct {
	client redis.Cmdable // Cmdable keeps ClusterClient, Ring, etc. usable
}

// NewRedisStore creates a new Redis bucket store.
// It expects a pre-configured redis.Cmdable (e.g., redis.Client or redis.ClusterClient).
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{
		client: client,
	}
}

// Consume implements the Store interface for Redis storage.
func (s *RedisStore) Consume(ctx context.Context, key string, cost int64, cfg Config, now time.Time) (Result, error) {
	args := []any{
		cost,             // ARGV[1]
		cfg.MaxTokens,    // ARGV[2]
		cfg.intervalMs(), // ARGV[3]
		cfg.ttlSeconds(), // ARGV[4]
		now.UnixMilli(),  // ARGV[5]
	}

	values, err := s.run(ctx, consumeScript, key, args...)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Allowed: values[0] == 1,
		Bucket:  Bucket{Tokens: values[1], LastRefillMs: values[2]},
	}
	log.Debug().Str("key", key).Int64("cost", cost).Int64("tokens", res.Bucket.Tokens).Bool("allowed", res.Allowed).Msg("redis consume")
	return res, nil
}

// Refund implements the Store interface for Redis storage.
func (s *RedisStore) Refund(ctx context.Context, key string, amount int64, cfg Config, _ time.Time) (Result, error) {
	values, err := s.run(ctx, refundScript, key, amount, cfg.MaxTokens, cfg.ttlSeconds())
	if err != nil {
		return Result{}, err
	}
	if values[0] == 0 {
		return Result{}, ErrBucketNotFound
	}

	res := Result{Bucket: Bucket{Tokens: values[1], LastRefillMs: values[2]}}
	log.Debug().Str("key", key).Int64("amount", amount).Int64("tokens", res.Bucket.Tokens).Msg("redis refund")
	return res, nil
}

// Peek implements the Store interface for Redis storage.
func (s *RedisStore) Peek(ctx context.Context, key string, cfg Config, now time.Time) (Result, error) {
	return s.Consume(ctx, key, 0, cfg, now)
}

// Lookup reads the stored bucket without refilling it or touching its expiry.
func (s *RedisStore) Lookup(ctx context.Context, key string) (Bucket, bool, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return Bucket{}, false, fmt.Errorf("redis hgetall for key %s: %w", key, err)
	}
	return BucketFromFields(fields)
}

// run executes script and decodes its {flag, tokens, last_refill_ms} reply.
func (s *RedisStore) run(ctx context.Context, script *redis.Script, key string, args ...any) ([3]int64, error) {
	var out [3]int64

	result, err := script.Run(ctx, s.client, []string{key}, args...).Result()
	if err != nil {
		if isMalformedReply(err) {
			log.Error().Str("key", key).Msg("redis bucket state is malformed")
			return out, fmt.Errorf("%w: key %s", ErrMalformedBucket, key)
		}
		log.Error().Err(err).Str("key", key).Msg("redis lua script execution failed")
		return out, fmt.Errorf("redis command failed for key %s: %w", key, err)
	}

	values, ok := result.([]any)
	if !ok || len(values) != len(out) {
		log.Error().Str("key", key).Interface("result", result).Msg("redis lua script returned unexpected reply")
		return out, fmt.Errorf("%w: unexpected script reply for key %s: %v", ErrMalformedBucket, key, result)
	}
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return out, fmt.Errorf("%w: unexpected reply element %T for key %s", ErrMalformedBucket, v, key)
		}
		out[i] = n
	}
	return out, nil
}

// isMalformedReply reports whether err is the server's reply to undecodable
// bucket state, as opposed to a transport or client error.
func isMalformedReply(err error) bool {
	var rerr redis.Error
	return errors.As(err, &rerr) && strings.HasPrefix(rerr.Error(), malformedReply)
}

var _ Store = (*RedisStore)(nil)
