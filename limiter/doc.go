// Package limiter implements per-identity bucket admission control on top of
// a shared key-value store.
//
// Each identity owns a bucket of at most Config.MaxTokens tokens. One token is
// credited per full Config.RefillInterval since the bucket's refill anchor;
// refill is computed lazily on access, there is no background timer. The
// anchor advances by exactly the credited intervals, so partial intervals are
// never lost between calls.
//
// A bucket that does not exist reads as full. It comes into existence on the
// first TryConsume or Peek, every write refreshes its expiry to Config.TTL,
// and the store evicts it after that long without traffic. The limiter never
// deletes a bucket itself.
//
// # Operations
//
//	allowed, err := l.TryConsume(ctx, "user-42", 1)
//	if err != nil {
//		// store failure: the caller picks fail-open or fail-closed
//	}
//	if !allowed {
//		return limiter.ErrRateLimited
//	}
//	// the guarded operation turned out to be free
//	_ = l.Refund(ctx, "user-42", 1)
//
// Peek applies owed refill, persists it and returns the token count.
// Refund credits tokens without moving the refill anchor and fails with
// ErrBucketNotFound when there is no bucket to refund into.
//
// # Stores
//
//   - MemoryStore: process-local map behind a mutex, with lazy expiry.
//   - RedisStore: Lua scripts, one atomic server-side step per operation.
//   - LockedStore: GET and a WATCH-guarded SET of a JSON record, under a
//     per-key redlock, for servers without scripting.
//
// All of them make the read-refill-decide-write cycle atomic per key.
//
// # Errors
//
// Invalid arguments fail with ErrInvalidArgument before the store is
// contacted. Store problems come back as *StoreError, matching
// ErrStoreFailure and unwrapping to the cause. Failed store calls are not
// retried; LockedStore only re-runs a cycle whose compare-and-swap lost.
package limiter
