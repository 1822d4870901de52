package limiter

import (
	"context"
	"time"
)

// Result is the outcome of a single store operation.
type Result struct {
	Allowed bool   // consume only: whether cost was taken
	Bucket  Bucket // state as persisted by the operation
}

// Store defines the interface for keeping bucket state.
//
// Every method is one atomic read-refill-decide-write cycle for key: two
// concurrent calls on the same key must never observe the same pre-update
// state. Each write refreshes the key's expiry to cfg.TTL. Implementations
// report their own failures as errors and never turn them into a decision.
type Store interface {
	// Consume refills the bucket (creating a full one if missing) and takes
	// cost tokens when available. The refilled state is persisted either way.
	Consume(ctx context.Context, key string, cost int64, cfg Config, now time.Time) (Result, error)

	// Refund credits amount tokens, clamped to cfg.MaxTokens, without moving the
	// refill anchor. Returns ErrBucketNotFound and writes nothing if key is missing.
	Refund(ctx context.Context, key string, amount int64, cfg Config, now time.Time) (Result, error)

	// Peek is Consume with a cost of zero: owed refill is applied and persisted.
	Peek(ctx context.Context, key string, cfg Config, now time.Time) (Result, error)
}
