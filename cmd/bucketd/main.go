// Command bucketd serves the pix query and token status endpoints, charging
// pix lookups against each caller's token bucket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Svaan1/woovi-leaky-bucket/config"
	"github.com/Svaan1/woovi-leaky-bucket/httpapi"
	"github.com/Svaan1/woovi-leaky-bucket/limiter"
	"github.com/Svaan1/woovi-leaky-bucket/metrics"
	"github.com/Svaan1/woovi-leaky-bucket/redlock"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("bucketd exited")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewPrometheusRecorder(reg)
	if err != nil {
		return err
	}

	store, client, err := buildStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	if client != nil {
		defer client.Close()
	}

	l, err := limiter.New(store, cfg.Bucket, limiter.WithRecorder(recorder))
	if err != nil {
		return err
	}

	opts := []httpapi.Option{
		httpapi.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
	}
	if client != nil {
		opts = append(opts, httpapi.WithHealthCheck(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.New(l, cfg.PixKeys, opts...).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.Store.Type).
			Int64("max_tokens", cfg.Bucket.MaxTokens).Dur("refill_interval", cfg.Bucket.RefillInterval).
			Msg("bucketd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setupLogger(cfg *config.Config) {
	level, _ := zerolog.ParseLevel(cfg.LogLevel) // validated by config.Load
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// buildStore returns the configured store and, for Redis-backed stores, the
// client so the caller can ping and close it.
func buildStore(ctx context.Context, cfg config.Store) (limiter.Store, *redis.Client, error) {
	if cfg.Type == limiter.StoreMemory {
		log.Warn().Msg("using in-process bucket store, limits are not shared between replicas")
		return limiter.NewMemoryStore(), nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	// a failed store call is reported, never retried
	opts.MaxRetries = -1
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}

	switch cfg.Type {
	case limiter.StoreRedis:
		return limiter.NewRedisStore(client), client, nil
	case limiter.StoreRedisLock:
		return limiter.NewLockedStore(client,
			redlock.WithTTL(cfg.LockTTL),
			redlock.WithRetryDelay(cfg.LockRetryDelay),
			redlock.WithMaxRetries(cfg.LockMaxRetries),
		), client, nil
	default:
		_ = client.Close()
		return nil, nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
