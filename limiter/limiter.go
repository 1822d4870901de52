package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Limiter makes admission decisions for identities against a shared Store.
// It keeps no bucket state of its own; every call goes to the store.
// A Limiter is safe for concurrent use.
type Limiter struct {
	store    Store
	cfg      Config
	now      func() time.Time
	recorder Recorder
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now as the source of refill time.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithRecorder sets the metrics backend.
func WithRecorder(r Recorder) Option {
	return func(l *Limiter) {
		if r != nil {
			l.recorder = r
		}
	}
}

// New creates a Limiter enforcing cfg on store.
func New(store Store, cfg Config, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is nil", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		recorder: NoopRecorder{},
	}
	for _, opt := range opts {
		opt(l)
	}

	log.Debug().
		Str("namespace", cfg.Namespace).
		Int64("max_tokens", cfg.MaxTokens).
		Dur("refill_interval", cfg.RefillInterval).
		Dur("ttl", cfg.TTL).
		Msg("bucket limiter created")
	return l, nil
}

// Config returns the policy the limiter enforces.
func (l *Limiter) Config() Config {
	return l.cfg
}

// MaxTokens returns the bucket capacity.
func (l *Limiter) MaxTokens() int64 {
	return l.cfg.MaxTokens
}

// Key returns the store key of identity's bucket.
func (l *Limiter) Key(identity string) string {
	return l.cfg.Namespace + ":" + identity
}

// TryConsume reports whether identity may spend cost tokens now, and spends
// them if so. A store failure is returned as an error matching
// ErrStoreFailure and is never a decision: allowed is false and meaningless then.
func (l *Limiter) TryConsume(ctx context.Context, identity string, cost int64) (bool, error) {
	if err := checkArgs(identity, "cost", cost); err != nil {
		return false, err
	}

	start := time.Now()
	res, err := l.store.Consume(ctx, l.Key(identity), cost, l.cfg, l.now())
	l.observe("consume", start)
	if err != nil {
		l.recorder.Add(MetricConsume, 1, map[string]string{"outcome": OutcomeError})
		log.Error().Err(err).Str("identity", identity).Int64("cost", cost).Msg("bucket consume failed")
		return false, &StoreError{Op: "consume", Identity: identity, Err: err}
	}

	if res.Allowed {
		l.recorder.Add(MetricConsume, 1, map[string]string{"outcome": OutcomeAllowed})
		log.Debug().Str("identity", identity).Int64("cost", cost).Int64("tokens", res.Bucket.Tokens).Msg("request allowed")
	} else {
		l.recorder.Add(MetricConsume, 1, map[string]string{"outcome": OutcomeDenied})
		log.Debug().Str("identity", identity).Int64("cost", cost).Int64("tokens", res.Bucket.Tokens).Msg("request denied")
	}
	return res.Allowed, nil
}

// Refund gives amount tokens back to identity, up to capacity. It fails with
// ErrBucketNotFound if identity has no bucket; a refund never creates one.
func (l *Limiter) Refund(ctx context.Context, identity string, amount int64) error {
	if err := checkArgs(identity, "amount", amount); err != nil {
		return err
	}

	start := time.Now()
	res, err := l.store.Refund(ctx, l.Key(identity), amount, l.cfg, l.now())
	l.observe("refund", start)
	if errors.Is(err, ErrBucketNotFound) {
		l.recorder.Add(MetricRefund, 1, map[string]string{"outcome": OutcomeNotFound})
		log.Warn().Str("identity", identity).Int64("amount", amount).Msg("refund for missing bucket")
		return fmt.Errorf("refund for identity %q: %w", identity, ErrBucketNotFound)
	}
	if err != nil {
		l.recorder.Add(MetricRefund, 1, map[string]string{"outcome": OutcomeError})
		log.Error().Err(err).Str("identity", identity).Int64("amount", amount).Msg("bucket refund failed")
		return &StoreError{Op: "refund", Identity: identity, Err: err}
	}

	l.recorder.Add(MetricRefund, 1, map[string]string{"outcome": OutcomeOK})
	log.Debug().Str("identity", identity).Int64("amount", amount).Int64("tokens", res.Bucket.Tokens).Msg("tokens refunded")
	return nil
}

// Peek applies any refill owed to identity, persists it, and returns the
// resulting token count without consuming anything.
func (l *Limiter) Peek(ctx context.Context, identity string) (int64, error) {
	if identity == "" {
		return 0, fmt.Errorf("%w: identity must not be empty", ErrInvalidArgument)
	}

	start := time.Now()
	res, err := l.store.Peek(ctx, l.Key(identity), l.cfg, l.now())
	l.observe("peek", start)
	if err != nil {
		l.recorder.Add(MetricPeek, 1, map[string]string{"outcome": OutcomeError})
		log.Error().Err(err).Str("identity", identity).Msg("bucket peek failed")
		return 0, &StoreError{Op: "peek", Identity: identity, Err: err}
	}

	l.recorder.Add(MetricPeek, 1, map[string]string{"outcome": OutcomeOK})
	return res.Bucket.Tokens, nil
}

// For returns a handle bound to identity.
func (l *Limiter) For(identity string) *Handle {
	return &Handle{limiter: l, identity: identity}
}

func (l *Limiter) observe(op string, start time.Time) {
	l.recorder.Observe(MetricStoreLatency, time.Since(start).Seconds(), map[string]string{"op": op})
}

func checkArgs(identity, name string, n int64) error {
	if identity == "" {
		return fmt.Errorf("%w: identity must not be empty", ErrInvalidArgument)
	}
	if n <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidArgument, name, n)
	}
	return nil
}

// Handle is a Limiter bound to one caller identity, the form request
// handlers carry around.
type Handle struct {
	limiter  *Limiter
	identity string
}

// Identity returns the bound identity.
func (h *Handle) Identity() string { return h.identity }

// MaxTokens returns the bucket capacity.
func (h *Handle) MaxTokens() int64 { return h.limiter.MaxTokens() }

// TryConsume is Limiter.TryConsume for the bound identity.
func (h *Handle) TryConsume(ctx context.Context, cost int64) (bool, error) {
	return h.limiter.TryConsume(ctx, h.identity, cost)
}

// Refund is Limiter.Refund for the bound identity.
func (h *Handle) Refund(ctx context.Context, amount int64) error {
	return h.limiter.Refund(ctx, h.identity, amount)
}

// Peek is Limiter.Peek for the bound identity.
func (h *Handle) Peek(ctx context.Context) (int64, error) {
	return h.limiter.Peek(ctx, h.identity)
}
