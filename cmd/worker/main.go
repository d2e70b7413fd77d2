// Command worker serves exactly one flavor: it drains the flavor's task
// queue, runs the bound executor, and publishes results.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/executor/llm"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/executor/ocr"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/executor/stub"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/adapter/queue/rabbit"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/config"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
	"github.com/fairyhunter13/ai-inference-pipeline/internal/usecase"
)

// bindExecutor picks the executor implementation for the worker's flavor.
// Flavors without a real backend run the stub in dev and refuse to start
// in prod, so a misconfigured deployment fails loudly instead of emitting
// canned results.
func bindExecutor(cfg config.Config, f domain.Flavor) (domain.Executor, error) {
	switch {
	case strings.HasPrefix(f.Name, "llm_"):
		var extractor llm.TextExtractor
		if cfg.TikaURL != "" {
			extractor = ocr.New(cfg.TikaURL, cfg.EffectiveStagingDir())
		}
		return llm.New(cfg, extractor), nil
	case f.Name == "ocr":
		if cfg.TikaURL == "" {
			return nil, fmt.Errorf("ocr flavor needs TIKA_URL")
		}
		return ocr.New(cfg.TikaURL, cfg.EffectiveStagingDir()), nil
	default:
		if cfg.IsProd() {
			return nil, fmt.Errorf("no executor backend bound for flavor %q", f.Name)
		}
		return stub.New(), nil
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	registry, err := config.BuildRegistry(cfg.FlavorsFile)
	if err != nil {
		slog.Error("flavor registry build failed", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.WorkerFlavor == "" {
		slog.Error("WORKER_FLAVOR is required")
		os.Exit(1)
	}
	flavor, err := registry.Lookup(cfg.WorkerFlavor)
	if err != nil {
		slog.Error("unknown worker flavor", slog.String("flavor", cfg.WorkerFlavor), slog.Any("error", err))
		os.Exit(1)
	}

	executor, err := bindExecutor(cfg, flavor)
	if err != nil {
		slog.Error("executor binding failed", slog.String("flavor", flavor.Name), slog.Any("error", err))
		os.Exit(1)
	}

	broker := rabbit.NewClient(cfg.QueueURL, cfg.QueueReconnectMin, cfg.QueueReconnectMax)
	defer func() {
		if err := broker.Close(); err != nil {
			slog.Error("failed to close broker client", slog.Any("error", err))
		}
	}()
	publisher := rabbit.NewPublisher(broker)

	processSvc := usecase.NewProcessService(flavor, executor, publisher, cfg.EffectiveResultDir())
	consumer := rabbit.NewConsumer(broker, flavor.TaskQueue, cfg.QueuePrefetch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Run(ctx, processSvc.Handle); err != nil {
			slog.Error("task consumer stopped", slog.Any("error", err))
		}
	}()

	slog.Info("worker started",
		slog.String("flavor", flavor.Name),
		slog.String("queue", flavor.TaskQueue),
		slog.Int("prefetch", cfg.QueuePrefetch))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("signal received, draining", slog.String("signal", sig.String()))

	cancel()
	select {
	case <-done:
	case <-time.After(cfg.ServerShutdownTimeout):
		slog.Warn("drain timed out; exiting with work in flight")
	}
	slog.Info("worker stopped")
}
