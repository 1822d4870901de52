// Package httpapi exposes the bucket limiter to HTTP callers: a pix key
// lookup charged against the caller's bucket and a token status query.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/Svaan1/woovi-leaky-bucket/limiter"
	"github.com/Svaan1/woovi-leaky-bucket/meta"
)

// Request headers
const (
	HeaderUserID    = "X-User-ID"
	HeaderRequestID = "X-Request-ID"
)

// pixQueryCost is the bucket cost of one pix key lookup.
const pixQueryCost = 1

// Server holds the handlers' dependencies.
type Server struct {
	limiter *limiter.Limiter
	pixKeys map[string]struct{}
	health  func(ctx context.Context) error
	metrics http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck sets the probe behind /healthz, typically a Redis ping.
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.health = fn
	}
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// New creates a Server. pixKeys is the set of keys a pix query accepts.
func New(l *limiter.Limiter, pixKeys []string, opts ...Option) *Server {
	s := &Server{
		limiter: l,
		pixKeys: make(map[string]struct{}, len(pixKeys)),
	}
	for _, k := range pixKeys {
		s.pixKeys[k] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(s.identify)
	api.HandleFunc("/pix/query", s.handlePixQuery).Methods(http.MethodPost)
	api.HandleFunc("/tokens", s.handleTokens).Methods(http.MethodGet)
	return r
}

// identify attaches the caller and their bucket handle to the request context.
// The user id arrives already decoded; verifying it is the auth layer's job.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := r.Header.Get(HeaderUserID)
		if identity == "" {
			writeError(w, http.StatusUnauthorized, "Unauthenticated", "UNAUTHENTICATED")
			return
		}

		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)

		caller := meta.NewCaller(identity, requestID, s.limiter)
		next.ServeHTTP(w, r.WithContext(meta.WithCaller(r.Context(), caller)))
	})
}

type pixQueryRequest struct {
	PixKey string  `json:"pix_key"`
	Value  float64 `json:"value"`
}

type pixQueryResponse struct {
	PixKey string  `json:"pix_key"`
	Value  float64 `json:"value"`
	Valid  bool    `json:"valid"`
}

// handlePixQuery charges one token per lookup. A lookup that finds the key is
// free and gets its token back; a miss keeps it spent, so key enumeration
// drains the bucket.
func (s *Server) handlePixQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := meta.MustCaller(ctx)
	logger := caller.Logger()

	var req pixQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PixKey == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	allowed, err := caller.Bucket.TryConsume(ctx, pixQueryCost)
	if err != nil {
		// fail closed: without the store we cannot bound key enumeration.
		// The limiter has already logged the store failure.
		writeError(w, http.StatusServiceUnavailable, "Rate limiter unavailable", "LIMITER_UNAVAILABLE")
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(caller.Bucket.MaxTokens(), 10))
	if !allowed {
		logger.Warn().Msg("pix query rate limited")
		writeError(w, http.StatusTooManyRequests, limiter.ErrRateLimited.Error(), "RATE_LIMITED")
		return
	}

	if _, ok := s.pixKeys[req.PixKey]; !ok {
		logger.Info().Str("pix_key", req.PixKey).Msg("pix key not found, token kept")
		writeError(w, http.StatusBadRequest, "Invalid key", "INVALID_KEY")
		return
	}

	// on failure the lookup still succeeded; the caller just loses a token
	_ = caller.Bucket.Refund(ctx, pixQueryCost)

	writeJSON(w, http.StatusOK, pixQueryResponse{PixKey: req.PixKey, Value: req.Value, Valid: true})
}

type tokensResponse struct {
	CurrentTokens int64 `json:"current_tokens"`
	MaxTokens     int64 `json:"max_tokens"`
}

// handleTokens reports the caller's bucket. Reading it also applies any
// refill owed since the last access.
func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := meta.MustCaller(ctx)

	tokens, err := caller.Bucket.Peek(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Rate limiter unavailable", "LIMITER_UNAVAILABLE")
		return
	}

	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(caller.Bucket.MaxTokens(), 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(tokens, 10))
	writeJSON(w, http.StatusOK, tokensResponse{CurrentTokens: tokens, MaxTokens: caller.Bucket.MaxTokens()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			log.Warn().Err(err).Msg("health check failed")
			writeError(w, http.StatusServiceUnavailable, "Store unhealthy", "UNHEALTHY")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
