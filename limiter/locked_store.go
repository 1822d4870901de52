package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Svaan1/woovi-leaky-bucket/redlock"
)

// lockKeyPrefix namespaces the per-bucket lock keys.
const lockKeyPrefix = "lock:"

// maxSwapAttempts bounds how often a write is retried after losing a
// compare-and-swap race.
const maxSwapAttempts = 5

// LockedStore implements the Store interface with plain commands only, for
// Redis-compatible servers without Lua scripting. The bucket is a JSON blob
// written with SET EX inside a WATCH/MULTI/EXEC transaction, so a cycle
// whose key changed since its GET is re-run instead of overwriting. A per-key
// redlock serializes cycles so that conflicts stay rare; correctness does not
// depend on the lock outliving the cycle.
type LockedStore struct {
	client   redis.UniversalClient
	lockOpts []redlock.Option

	// beforeWrite, when set, runs between reading and writing a bucket.
	beforeWrite func(key string)
}

// NewLockedStore creates a lock-guarded bucket store. lockOpts configure the
// per-key redlock.Locker (TTL, retry delay, retry budget).
func NewLockedStore(client redis.UniversalClient, lockOpts ...redlock.Option) *LockedStore {
	return &LockedStore{
		client:   client,
		lockOpts: lockOpts,
	}
}

// mutation computes the new state from the loaded one. Returning write=false
// leaves the key untouched. It may run more than once per cycle.
type mutation func(b Bucket, exists bool) (next Bucket, write bool, err error)

// Consume implements the Store interface for lock-guarded storage.
func (s *LockedStore) Consume(ctx context.Context, key string, cost int64, cfg Config, now time.Time) (Result, error) {
	var allowed bool
	b, err := s.update(ctx, key, cfg, func(b Bucket, exists bool) (Bucket, bool, error) {
		if !exists {
			b = newBucket(cfg, now.UnixMilli())
		}
		b, allowed = b.consume(cfg, cost, now.UnixMilli())
		return b, true, nil
	})
	if err != nil {
		return Result{}, err
	}

	log.Debug().Str("key", key).Int64("cost", cost).Int64("tokens", b.Tokens).Bool("allowed", allowed).Msg("locked consume")
	return Result{Allowed: allowed, Bucket: b}, nil
}

// Refund implements the Store interface for lock-guarded storage.
func (s *LockedStore) Refund(ctx context.Context, key string, amount int64, cfg Config, _ time.Time) (Result, error) {
	b, err := s.update(ctx, key, cfg, func(b Bucket, exists bool) (Bucket, bool, error) {
		if !exists {
			return b, false, ErrBucketNotFound
		}
		return b.credit(cfg, amount), true, nil
	})
	if err != nil {
		return Result{}, err
	}

	log.Debug().Str("key", key).Int64("amount", amount).Int64("tokens", b.Tokens).Msg("locked refund")
	return Result{Bucket: b}, nil
}

// Peek implements the Store interface for lock-guarded storage.
func (s *LockedStore) Peek(ctx context.Context, key string, cfg Config, now time.Time) (Result, error) {
	return s.Consume(ctx, key, 0, cfg, now)
}

// Lookup reads the stored bucket without locking, refilling, or touching its expiry.
func (s *LockedStore) Lookup(ctx context.Context, key string) (Bucket, bool, error) {
	return s.load(ctx, s.client, key)
}

func (s *LockedStore) update(ctx context.Context, key string, cfg Config, fn mutation) (Bucket, error) {
	var (
		next      Bucket
		committed bool
	)
	locker := redlock.NewLocker(s.client, lockKeyPrefix+key, s.lockOpts...)

	err := locker.Do(ctx, func(ctx context.Context) error {
		var err error
		next, err = s.swap(ctx, key, cfg, fn)
		committed = err == nil
		return err
	})
	if err != nil && committed {
		// the write was compare-and-swap guarded, a lapsed lock cannot have let
		// a conflicting write through
		log.Warn().Err(err).Str("key", key).Msg("bucket lock not released cleanly, write already committed")
		return next, nil
	}
	return next, err
}

// swap runs one read-compute-write cycle as an optimistic transaction on key,
// retrying when another writer got in between.
func (s *LockedStore) swap(ctx context.Context, key string, cfg Config, fn mutation) (Bucket, error) {
	var next Bucket

	for attempt := 1; attempt <= maxSwapAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			cur, exists, err := s.load(ctx, tx, key)
			if err != nil {
				return err
			}

			var write bool
			next, write, err = fn(cur, exists)
			if err != nil || !write {
				return err
			}

			data, err := EncodeBucket(next)
			if err != nil {
				return fmt.Errorf("encode bucket for key %s: %w", key, err)
			}
			if s.beforeWrite != nil {
				s.beforeWrite(key)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, cfg.TTL)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			log.Debug().Str("key", key).Int("attempt", attempt).Msg("bucket changed during cycle, retrying")
			continue
		}
		return next, err
	}

	log.Error().Str("key", key).Int("attempts", maxSwapAttempts).Msg("bucket write kept conflicting")
	return Bucket{}, fmt.Errorf("%w: key %s after %d attempts", ErrWriteConflict, key, maxSwapAttempts)
}

func (s *LockedStore) load(ctx context.Context, c redis.Cmdable, key string) (Bucket, bool, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Bucket{}, false, nil
	}
	if err != nil {
		return Bucket{}, false, fmt.Errorf("redis get for key %s: %w", key, err)
	}

	b, err := DecodeBucket(data)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("stored bucket is malformed")
		return Bucket{}, true, err
	}
	return b, true, nil
}

var _ Store = (*LockedStore)(nil)
