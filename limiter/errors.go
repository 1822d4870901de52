package limiter

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for an empty identity or a non-positive
	// cost or amount. The store is never contacted.
	ErrInvalidArgument = errors.New("limiter: invalid argument")
	// ErrBucketNotFound is returned by Refund when the identity has no bucket.
	ErrBucketNotFound = errors.New("limiter: bucket not found")
	// ErrStoreFailure matches every error caused by the backing store.
	ErrStoreFailure = errors.New("limiter: store failure")
	// ErrMalformedBucket is returned by stores holding a record that cannot be decoded.
	ErrMalformedBucket = errors.New("limiter: malformed bucket state")
	// ErrWriteConflict is returned by LockedStore when the bucket kept changing
	// under a cycle. Nothing was written.
	ErrWriteConflict = errors.New("limiter: bucket write conflict")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("limiter: invalid config")
	// ErrRateLimited is for callers translating a denied TryConsume into an error.
	// The limiter itself never returns it.
	ErrRateLimited = errors.New("rate limited, please wait")
)

// StoreError wraps a failure of the backing store with the operation and
// identity it happened on.
type StoreError struct {
	Op       string
	Identity string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("limiter: %s for identity %q: store failure: %v", e.Op, e.Identity, e.Err)
}

// Unwrap exposes the cause, so context.DeadlineExceeded and friends stay detectable.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports ErrStoreFailure as a match.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreFailure
}
