package limiter

import "time"

// Bucket is the persisted state of one identity's bucket.
type Bucket struct {
	Tokens       int64 `json:"tokens"`         // available tokens, 0 <= Tokens <= MaxTokens
	LastRefillMs int64 `json:"last_refill_ms"` // unix millis of the last applied refill
}

// LastRefill returns LastRefillMs as a time.Time.
func (b Bucket) LastRefill() time.Time {
	return time.UnixMilli(b.LastRefillMs)
}

// newBucket is what a missing bucket reads as: full, anchored at now.
func newBucket(cfg Config, nowMs int64) Bucket {
	return Bucket{Tokens: cfg.MaxTokens, LastRefillMs: nowMs}
}

// refill credits one token per whole refill interval elapsed since the anchor.
// The anchor moves forward by exactly the credited intervals, so the leftover
// fraction of an interval carries over to the next call. A clock reading
// before the anchor counts as no time elapsed.
func (b Bucket) refill(cfg Config, nowMs int64) Bucket {
	interval := cfg.intervalMs()
	if elapsed := nowMs - b.LastRefillMs; elapsed > 0 && interval > 0 {
		if add := elapsed / interval; add > 0 {
			b.LastRefillMs += add * interval
			b = b.credit(cfg, add)
		}
	}
	if b.Tokens > cfg.MaxTokens {
		b.Tokens = cfg.MaxTokens
	}
	return b
}

// consume refills and then takes cost tokens if they are available.
// The refilled state is returned in both cases.
func (b Bucket) consume(cfg Config, cost, nowMs int64) (Bucket, bool) {
	b = b.refill(cfg, nowMs)
	if b.Tokens < cost {
		return b, false
	}
	b.Tokens -= cost
	return b, true
}

// credit adds amount tokens, clamped to capacity. The anchor is untouched.
func (b Bucket) credit(cfg Config, amount int64) Bucket {
	if amount >= cfg.MaxTokens-b.Tokens {
		b.Tokens = cfg.MaxTokens
		return b
	}
	b.Tokens += amount
	return b
}
