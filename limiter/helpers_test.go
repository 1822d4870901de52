package limiter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Svaan1/woovi-leaky-bucket/redlock"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() Config {
	return Config{
		Namespace:      "test",
		MaxTokens:      10,
		RefillInterval: time.Hour,
		TTL:            7 * 24 * time.Hour,
	}
}

// lookupFunc reads a stored bucket without going through the Store interface.
type lookupFunc func(key string) (Bucket, bool)

type storeCase struct {
	name  string
	build func(t *testing.T, clock *fakeClock) (Store, lookupFunc)
}

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func storeCases() []storeCase {
	return []storeCase{
		{
			name: StoreMemory,
			build: func(t *testing.T, clock *fakeClock) (Store, lookupFunc) {
				s := NewMemoryStore()
				return s, func(key string) (Bucket, bool) {
					return s.Lookup(key, clock.Now())
				}
			},
		},
		{
			name: StoreRedis,
			build: func(t *testing.T, _ *fakeClock) (Store, lookupFunc) {
				_, client := newMiniredisClient(t)
				s := NewRedisStore(client)
				return s, func(key string) (Bucket, bool) {
					b, ok, err := s.Lookup(context.Background(), key)
					require.NoError(t, err)
					return b, ok
				}
			},
		},
		{
			name: StoreRedisLock,
			build: func(t *testing.T, _ *fakeClock) (Store, lookupFunc) {
				_, client := newMiniredisClient(t)
				s := NewLockedStore(client,
					redlock.WithRetryDelay(time.Millisecond),
					redlock.WithMaxRetries(0),
				)
				return s, func(key string) (Bucket, bool) {
					b, ok, err := s.Lookup(context.Background(), key)
					require.NoError(t, err)
					return b, ok
				}
			},
		},
	}
}

// countingStore counts calls and fails every one of them with err, if set.
type countingStore struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *countingStore) record() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *countingStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *countingStore) Consume(context.Context, string, int64, Config, time.Time) (Result, error) {
	return Result{Allowed: true}, s.record()
}

func (s *countingStore) Refund(context.Context, string, int64, Config, time.Time) (Result, error) {
	return Result{}, s.record()
}

func (s *countingStore) Peek(context.Context, string, Config, time.Time) (Result, error) {
	return Result{}, s.record()
}

// mockRecorder captures metrics in memory for assertion.
type mockRecorder struct {
	mu       sync.Mutex
	counters map[string]float64
	timings  map[string]int
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{
		counters: make(map[string]float64),
		timings:  make(map[string]int),
	}
}

func (m *mockRecorder) Add(name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name+"/"+tags["outcome"]] += value
}

func (m *mockRecorder) Observe(name string, _ float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timings[name+"/"+tags["op"]]++
}

func (m *mockRecorder) counter(name, outcome string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name+"/"+outcome]
}

func (m *mockRecorder) timing(name, op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timings[name+"/"+op]
}

// noScriptClient behaves like a server with scripting disabled.
type noScriptClient struct {
	*redis.Client
	mu          sync.Mutex
	scriptCalls int
}

func (c *noScriptClient) refuse(ctx context.Context, name string) *redis.Cmd {
	c.mu.Lock()
	c.scriptCalls++
	c.mu.Unlock()

	cmd := redis.NewCmd(ctx, name)
	cmd.SetErr(fmt.Errorf("ERR unknown command '%s'", name))
	return cmd
}

func (c *noScriptClient) Eval(ctx context.Context, _ string, _ []string, _ ...any) *redis.Cmd {
	return c.refuse(ctx, "eval")
}

func (c *noScriptClient) EvalSha(ctx context.Context, _ string, _ []string, _ ...any) *redis.Cmd {
	return c.refuse(ctx, "evalsha")
}

func (c *noScriptClient) EvalRO(ctx context.Context, _ string, _ []string, _ ...any) *redis.Cmd {
	return c.refuse(ctx, "eval_ro")
}

func (c *noScriptClient) EvalShaRO(ctx context.Context, _ string, _ []string, _ ...any) *redis.Cmd {
	return c.refuse(ctx, "evalsha_ro")
}

func (c *noScriptClient) ScriptCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scriptCalls
}
