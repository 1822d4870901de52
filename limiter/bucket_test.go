package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBucket_Refill(t *testing.T) {
	cfg := Config{MaxTokens: 5, RefillInterval: 100 * time.Millisecond, TTL: time.Minute}

	tests := []struct {
		name string
		in   Bucket
		now  int64
		want Bucket
	}{
		{"no time elapsed", Bucket{Tokens: 2, LastRefillMs: 1000}, 1000, Bucket{Tokens: 2, LastRefillMs: 1000}},
		{"less than one interval", Bucket{Tokens: 2, LastRefillMs: 1000}, 1099, Bucket{Tokens: 2, LastRefillMs: 1000}},
		{"exactly one interval", Bucket{Tokens: 2, LastRefillMs: 1000}, 1100, Bucket{Tokens: 3, LastRefillMs: 1100}},
		{"remainder is kept", Bucket{Tokens: 2, LastRefillMs: 1000}, 1250, Bucket{Tokens: 4, LastRefillMs: 1200}},
		{"clamped to capacity", Bucket{Tokens: 4, LastRefillMs: 1000}, 2000, Bucket{Tokens: 5, LastRefillMs: 2000}},
		{"clock behind anchor", Bucket{Tokens: 1, LastRefillMs: 5000}, 4000, Bucket{Tokens: 1, LastRefillMs: 5000}},
		{"over capacity after policy change", Bucket{Tokens: 9, LastRefillMs: 1000}, 1000, Bucket{Tokens: 5, LastRefillMs: 1000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.refill(cfg, tt.now))
		})
	}
}

func TestBucket_Consume(t *testing.T) {
	cfg := Config{MaxTokens: 5, RefillInterval: 100 * time.Millisecond, TTL: time.Minute}

	b, ok := Bucket{Tokens: 1, LastRefillMs: 0}.consume(cfg, 1, 50)
	assert.True(t, ok)
	assert.Equal(t, Bucket{Tokens: 0, LastRefillMs: 0}, b)

	b, ok = b.consume(cfg, 1, 80)
	assert.False(t, ok)
	assert.Equal(t, Bucket{Tokens: 0, LastRefillMs: 0}, b)

	// refill happens before the capacity check
	b, ok = b.consume(cfg, 2, 230)
	assert.True(t, ok)
	assert.Equal(t, Bucket{Tokens: 0, LastRefillMs: 200}, b)

	b, ok = newBucket(cfg, 500).consume(cfg, 6, 500)
	assert.False(t, ok, "cost above capacity is never allowed")
	assert.Equal(t, int64(5), b.Tokens)
}

func TestBucket_Credit(t *testing.T) {
	cfg := Config{MaxTokens: 5, RefillInterval: time.Second, TTL: time.Minute}

	assert.Equal(t, Bucket{Tokens: 3, LastRefillMs: 7}, Bucket{Tokens: 1, LastRefillMs: 7}.credit(cfg, 2))
	assert.Equal(t, Bucket{Tokens: 5, LastRefillMs: 7}, Bucket{Tokens: 4, LastRefillMs: 7}.credit(cfg, 3))
	assert.Equal(t, int64(5), Bucket{Tokens: 0}.credit(cfg, 1<<62).Tokens)
}

func TestBucket_LastRefill(t *testing.T) {
	b := Bucket{LastRefillMs: 1_700_000_000_123}
	assert.Equal(t, int64(1_700_000_000_123), b.LastRefill().UnixMilli())
}
