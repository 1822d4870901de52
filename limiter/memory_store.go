package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type memoryEntry struct {
	bucket    Bucket
	expiresAt time.Time
}

// MemoryStore implements the Store interface using an in-memory map.
// Entries expire lazily: an entry past its TTL reads as missing. State is
// local to the process, so it is meant for tests and single-instance setups.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]memoryEntry
}

// NewMemoryStore creates a new in-memory bucket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]memoryEntry),
	}
}

// Consume implements the Store interface for memory storage.
func (s *MemoryStore) Consume(ctx context.Context, key string, cost int64, cfg Config, now time.Time) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.loadLocked(key, now)
	if !exists {
		b = newBucket(cfg, now.UnixMilli())
		log.Debug().Str("key", key).Int64("max_tokens", cfg.MaxTokens).Msg("first access, bucket created")
	}

	b, allowed := b.consume(cfg, cost, now.UnixMilli())
	s.saveLocked(key, b, cfg, now)

	log.Debug().Str("key", key).Int64("cost", cost).Int64("tokens", b.Tokens).Bool("allowed", allowed).Msg("memory consume")
	return Result{Allowed: allowed, Bucket: b}, nil
}

// Refund implements the Store interface for memory storage.
func (s *MemoryStore) Refund(ctx context.Context, key string, amount int64, cfg Config, now time.Time) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.loadLocked(key, now)
	if !exists {
		return Result{}, ErrBucketNotFound
	}

	b = b.credit(cfg, amount)
	s.saveLocked(key, b, cfg, now)

	log.Debug().Str("key", key).Int64("amount", amount).Int64("tokens", b.Tokens).Msg("memory refund")
	return Result{Bucket: b}, nil
}

// Peek implements the Store interface for memory storage.
func (s *MemoryStore) Peek(ctx context.Context, key string, cfg Config, now time.Time) (Result, error) {
	return s.Consume(ctx, key, 0, cfg, now)
}

// Lookup returns the stored bucket for key without refilling or touching its
// expiry. Expired entries read as missing relative to now.
func (s *MemoryStore) Lookup(key string, now time.Time) (Bucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(key, now)
}

// loadLocked requires s.mu. Expired entries are dropped on the way.
func (s *MemoryStore) loadLocked(key string, now time.Time) (Bucket, bool) {
	e, ok := s.buckets[key]
	if !ok {
		return Bucket{}, false
	}
	if !now.Before(e.expiresAt) {
		delete(s.buckets, key)
		log.Debug().Str("key", key).Time("expired_at", e.expiresAt).Msg("bucket expired")
		return Bucket{}, false
	}
	return e.bucket, true
}

// saveLocked requires s.mu.
func (s *MemoryStore) saveLocked(key string, b Bucket, cfg Config, now time.Time) {
	s.buckets[key] = memoryEntry{bucket: b, expiresAt: now.Add(cfg.TTL)}
}

var _ Store = (*MemoryStore)(nil)
