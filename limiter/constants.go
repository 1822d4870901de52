package limiter

import "time"

// Store types
const (
	StoreMemory    = "memory"
	StoreRedis     = "redis"
	StoreRedisLock = "redis-lock"
)

// Defaults for the policy knobs.
const (
	DefaultNamespace      = "leaky-bucket:user"
	DefaultMaxTokens      = 10
	DefaultRefillInterval = time.Hour
	DefaultTTL            = 7 * 24 * time.Hour
)

// Recorder metric names
const (
	MetricConsume      = "bucket.consume"
	MetricRefund       = "bucket.refund"
	MetricPeek         = "bucket.peek"
	MetricStoreLatency = "bucket.store_latency_seconds"
)

// Recorder outcome tag values
const (
	OutcomeAllowed  = "allowed"
	OutcomeDenied   = "denied"
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)
