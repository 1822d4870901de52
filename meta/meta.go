// Package meta carries request-scoped caller data through a context.Context:
// who is calling and the bucket handle their requests are charged against.
// Resolving the identity (token decoding, sessions) happens before this point.
package meta

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Svaan1/woovi-leaky-bucket/limiter"
)

// ErrNoCaller is returned when the context carries no caller.
var ErrNoCaller = errors.New("meta: no caller in context")

// callerKey is the private key type used for context.WithValue.
// Using a private type prevents collisions with other context keys.
type callerKey struct{}

// Caller is the identified party behind a request.
type Caller struct {
	Identity  string          // decoded caller id, the bucket key suffix
	RequestID string          // correlation id for logs
	Bucket    *limiter.Handle // limiter bound to Identity
}

// NewCaller binds identity to l.
func NewCaller(identity, requestID string, l *limiter.Limiter) *Caller {
	return &Caller{
		Identity:  identity,
		RequestID: requestID,
		Bucket:    l.For(identity),
	}
}

// WithCaller returns a copy of ctx carrying c.
// A nil caller leaves ctx unchanged.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	if c == nil {
		log.Warn().Msg("attempted to attach nil caller to context")
		return ctx
	}
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom extracts the caller stored by WithCaller.
func CallerFrom(ctx context.Context) (*Caller, error) {
	if ctx == nil {
		return nil, ErrNoCaller
	}

	value := ctx.Value(callerKey{})
	if value == nil {
		return nil, ErrNoCaller
	}

	c, ok := value.(*Caller)
	if !ok || c == nil {
		log.Error().Str("value_type", fmt.Sprintf("%T", value)).Msg("caller key found in context but value has wrong type")
		return nil, ErrNoCaller
	}
	return c, nil
}

// MustCaller is CallerFrom for code paths that run behind the identifying
// middleware. Panics if no caller is present.
func MustCaller(ctx context.Context) *Caller {
	c, err := CallerFrom(ctx)
	if err != nil {
		panic(err)
	}
	return c
}

// Logger returns the global logger annotated with the caller's fields.
func (c *Caller) Logger() zerolog.Logger {
	return log.With().Str("identity", c.Identity).Str("request_id", c.RequestID).Logger()
}
