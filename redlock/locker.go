// Package redlock provides a single-instance Redis lock keyed by resource name.
// The limiter uses it to serialize read-modify-write cycles on backends that
// cannot run the bucket scripts server-side, so the lock itself needs no
// scripting: it is taken with SET NX and released with a WATCH/MULTI/EXEC
// compare-and-delete.
package redlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	// defaultTTL is the default lock expiry time if not set via WithTTL.
	defaultTTL = 1 * time.Second
	// defaultRetryDelay is the default time to wait between retries in Lock.
	defaultRetryDelay = 10 * time.Millisecond
	// defaultMaxRetries is the default maximum number of retries in Lock.
	// 0 via WithMaxRetries means retry until the context is done.
	defaultMaxRetries = 100
)

var (
	// ErrLockNotAcquired is returned when TryLock finds the lock held.
	ErrLockNotAcquired = errors.New("redlock: lock not acquired")
	// ErrUnlockFailed is returned when the lock expired or is held by someone else.
	ErrUnlockFailed = errors.New("redlock: failed to unlock")
	// ErrLockWaitTimeout is returned when the context ends while waiting in Lock.
	// It is joined with the context error.
	ErrLockWaitTimeout = errors.New("redlock: waiting for lock timed out or context cancelled")
	// ErrLockMaxRetriesExceeded is returned when Lock gives up after the configured retries.
	ErrLockMaxRetriesExceeded = errors.New("redlock: maximum lock retries exceeded")
)

// Locker is a lock on one resource key. A Locker is not safe for concurrent
// use; create one per critical section.
type Locker struct {
	client     redis.UniversalClient // Watch needs a client that can pin a connection
	key        string        // resource key in Redis
	value      string        // unique token of the held lock, empty when not held
	ttl        time.Duration // lock expiry, bounds how long a crashed holder blocks others
	retryDelay time.Duration
	maxRetries int
}

// Option configures a Locker.
type Option func(*Locker)

// WithTTL sets the lock expiry. Non-positive values keep the default of 1s.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRetryDelay sets the pause between attempts in Lock. Default is 10ms.
func WithRetryDelay(delay time.Duration) Option {
	return func(l *Locker) {
		if delay > 0 {
			l.retryDelay = delay
		}
	}
}

// WithMaxRetries sets how many times Lock retries after the first attempt.
// 0 retries until the context is done. Negative values keep the default.
func WithMaxRetries(retries int) Option {
	return func(l *Locker) {
		if retries >= 0 {
			l.maxRetries = retries
		}
	}
}

// NewLocker creates a Locker for key.
func NewLocker(client redis.UniversalClient, key string, options ...Option) *Locker {
	l := &Locker{
		client:     client,
		key:        key,
		ttl:        defaultTTL,
		retryDelay: defaultRetryDelay,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// acquire runs SET key token NX PX ttl once.
func (l *Locker) acquire(ctx context.Context) error {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		log.Error().Err(err).Str("key", l.key).Msg("failed to execute setnx command")
		return fmt.Errorf("redlock: setnx %s: %w", l.key, err)
	}
	if !ok {
		log.Trace().Str("key", l.key).Msg("lock already held")
		return ErrLockNotAcquired
	}

	l.value = token
	log.Trace().Str("key", l.key).Str("held_value", token).Dur("ttl", l.ttl).Msg("lock acquired")
	return nil
}

// TryLock attempts to acquire the lock once without waiting.
func (l *Locker) TryLock(ctx context.Context) error {
	return l.acquire(ctx)
}

// Lock acquires the lock, retrying every retryDelay until it succeeds, the
// retry budget runs out, or ctx is done.
func (l *Locker) Lock(ctx context.Context) error {
	err := l.acquire(ctx)
	if !errors.Is(err, ErrLockNotAcquired) {
		return err
	}

	ticker := time.NewTicker(l.retryDelay)
	defer ticker.Stop()

	for retry := 1; ; retry++ {
		select {
		case <-ctx.Done():
			log.Warn().Err(ctx.Err()).Str("key", l.key).Int("retries_attempted", retry-1).Msg("context done while waiting for lock")
			return errors.Join(ErrLockWaitTimeout, ctx.Err())
		case <-ticker.C:
		}

		err := l.acquire(ctx)
		if err == nil {
			log.Debug().Str("key", l.key).Int("retries_needed", retry).Msg("lock acquired after waiting")
			return nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return err
		}
		if l.maxRetries > 0 && retry >= l.maxRetries {
			log.Warn().Str("key", l.key).Int("retries_attempted", retry).Msg("maximum lock retries exceeded")
			return ErrLockMaxRetriesExceeded
		}
	}
}

// Unlock releases the lock if this Locker still holds it. The delete runs in
// a transaction watching the key, so a lock that lapsed and was taken by
// another holder after the check is left alone.
func (l *Locker) Unlock(ctx context.Context) error {
	if l.value == "" {
		log.Warn().Str("key", l.key).Msg("unlock attempted without holding the lock")
		return ErrUnlockFailed
	}

	held := l.value
	l.value = ""

	err := l.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, l.key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrUnlockFailed
		}
		if err != nil {
			return err
		}
		if current != held {
			return ErrUnlockFailed
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, l.key)
			return nil
		})
		return err
	}, l.key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnlockFailed), errors.Is(err, redis.TxFailedErr):
		// the lock expired and may have been taken by another holder
		log.Warn().Str("key", l.key).Str("held_value", held).Msg("unlock failed: lock expired or re-acquired elsewhere")
		return ErrUnlockFailed
	default:
		log.Error().Err(err).Str("key", l.key).Msg("failed to release lock")
		return fmt.Errorf("redlock: unlock %s: %w", l.key, err)
	}
}

// Do runs fn while holding the lock. The lock is released even if fn fails;
// fn's error takes precedence over an unlock error.
func (l *Locker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Lock(ctx); err != nil {
		return err
	}

	fnErr := fn(ctx)

	// release even when ctx is already cancelled
	unlockErr := l.Unlock(context.WithoutCancel(ctx))
	if fnErr != nil {
		return fnErr
	}
	return unlockErr
}

// Key returns the resource key associated with this locker.
func (l *Locker) Key() string {
	return l.key
}

// Value returns the token of the currently held lock, or "" if not held.
func (l *Locker) Value() string {
	return l.value
}
