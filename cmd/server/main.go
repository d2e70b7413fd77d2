// Command server starts the inference pipeline HTTP server: it accepts
// job submissions, consumes result queues, and delivers webhooks.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/notifier/aihive"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/queue/rabbit"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/staging"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/app"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/config"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/service/ratelimiter"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/usecase"
)

// redisPinger adapts *redis.Client to the readiness probe surface.
type redisPinger struct{ rdb *redis.Client }

func (r redisPinger) Ping(ctx context.Context) app.RedisPingResult { return r.rdb.Ping(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, job, and janitor instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Infra: DB pool
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema migration failed", slog.Any("error", err))
		os.Exit(1)
	}

	jobRepo := postgres.NewJobRepo(pool)

	// Broker client shared by the task publisher and the result consumers.
	broker := rabbit.NewClient(cfg.QueueURL, cfg.QueueReconnectMin, cfg.QueueReconnectMax)
	defer func() {
		if err := broker.Close(); err != nil {
			slog.Error("failed to close broker client", slog.Any("error", err))
		}
	}()
	publisher := rabbit.NewPublisher(broker)

	registry, err := config.BuildRegistry(cfg.FlavorsFile)
	if err != nil {
		slog.Error("flavor registry build failed", slog.Any("error", err))
		os.Exit(1)
	}

	staged := staging.New(cfg.EffectiveStagingDir())
	notifier := aihive.New(cfg.CallbackBaseURL, registry, cfg.CallbackTimeout)

	// Usecases
	submitSvc := usecase.NewSubmitService(registry, jobRepo, publisher, staged)
	statusSvc := usecase.NewStatusService(registry, jobRepo)
	resultSvc := usecase.NewResultService(jobRepo, notifier)

	// One consumer per enabled flavor's result queue. They share the broker
	// connection and stop together on shutdown.
	consumerCtx, stopConsumers := context.WithCancel(ctx)
	defer stopConsumers()
	for _, name := range cfg.Flavors {
		f, err := registry.Lookup(name)
		if err != nil {
			slog.Warn("enabled flavor not in registry; skipping", slog.String("flavor", name))
			continue
		}
		consumer := rabbit.NewConsumer(broker, f.ResultQueue, cfg.QueuePrefetch)
		go func(queue string) {
			if err := consumer.Run(consumerCtx, resultSvc.Handle); err != nil {
				slog.Error("result consumer stopped", slog.String("queue", queue), slog.Any("error", err))
			}
		}(f.ResultQueue)
	}

	// Distributed submit throttle, only when Redis is configured. Without it
	// the per-IP limiter in the router is the sole throttle.
	var rdb *redis.Client
	var submitLimit func(http.Handler) http.Handler
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("redis url parse failed", slog.Any("error", err))
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		buckets := make(map[string]ratelimiter.BucketConfig)
		for _, f := range registry.All() {
			buckets[f.Name] = ratelimiter.NewBucketConfigFromPerMinute(cfg.RateLimitPerMin)
		}
		submitLimit = ratelimiter.Middleware(ratelimiter.NewRedisLuaLimiter(rdb, buckets))
	}

	var redisProbe app.RedisClient
	if rdb != nil {
		redisProbe = redisPinger{rdb: rdb}
	}
	dbCheck, brokerCheck, stagingCheck, redisCheck := app.BuildReadinessChecks(pool, broker, staged, redisProbe)

	srv := httpserver.NewServer(cfg, registry, submitSvc, statusSvc)
	srv.DBCheck = dbCheck
	srv.BrokerCheck = brokerCheck
	srv.StagingCheck = stagingCheck
	srv.RedisCheck = redisCheck

	janitor := app.NewJanitor(jobRepo, staged, cfg.StagingRetention, cfg.StalePendingAfter)
	if err := janitor.Start(ctx, cfg.JanitorSchedule, cfg.JanitorTZ); err != nil {
		slog.Error("janitor start failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer janitor.Stop()

	handler := app.BuildRouter(cfg, srv, submitLimit)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	stopConsumers()
}
