package limiter

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Hash field names used by the redis script store.
const (
	fieldTokens     = "tokens"
	fieldLastRefill = "last_refill_ms"
)

// EncodeBucket serializes a bucket into the JSON blob kept by LockedStore.
func EncodeBucket(b Bucket) ([]byte, error) {
	return json.Marshal(b)
}

// DecodeBucket parses a JSON blob written by EncodeBucket.
// Records with missing or negative fields are rejected with ErrMalformedBucket.
func DecodeBucket(data []byte) (Bucket, error) {
	var raw struct {
		Tokens       *int64 `json:"tokens"`
		LastRefillMs *int64 `json:"last_refill_ms"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Bucket{}, fmt.Errorf("%w: %v", ErrMalformedBucket, err)
	}
	if raw.Tokens == nil || raw.LastRefillMs == nil {
		return Bucket{}, fmt.Errorf("%w: missing field in %q", ErrMalformedBucket, data)
	}
	return checkBucket(Bucket{Tokens: *raw.Tokens, LastRefillMs: *raw.LastRefillMs})
}

// BucketFields renders a bucket as the hash fields stored by RedisStore.
func BucketFields(b Bucket) map[string]string {
	return map[string]string{
		fieldTokens:     strconv.FormatInt(b.Tokens, 10),
		fieldLastRefill: strconv.FormatInt(b.LastRefillMs, 10),
	}
}

// BucketFromFields parses the hash fields stored by RedisStore. The boolean
// reports whether the record exists at all; a partially present record is malformed.
func BucketFromFields(fields map[string]string) (Bucket, bool, error) {
	tokens, hasTokens := fields[fieldTokens]
	last, hasLast := fields[fieldLastRefill]
	if !hasTokens && !hasLast {
		return Bucket{}, false, nil
	}
	if !hasTokens || !hasLast {
		return Bucket{}, true, fmt.Errorf("%w: partial record %v", ErrMalformedBucket, fields)
	}

	t, err := strconv.ParseInt(tokens, 10, 64)
	if err != nil {
		return Bucket{}, true, fmt.Errorf("%w: tokens: %v", ErrMalformedBucket, err)
	}
	l, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return Bucket{}, true, fmt.Errorf("%w: last_refill_ms: %v", ErrMalformedBucket, err)
	}
	b, err := checkBucket(Bucket{Tokens: t, LastRefillMs: l})
	return b, true, err
}

func checkBucket(b Bucket) (Bucket, error) {
	if b.Tokens < 0 || b.LastRefillMs < 0 {
		return Bucket{}, fmt.Errorf("%w: negative field in %+v", ErrMalformedBucket, b)
	}
	return b, nil
}
