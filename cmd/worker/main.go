// Command worker runs one recognition worker: it boots the in-memory
// index from the configured snapshot source, then consumes the fanout
// mutation queue and the shared processing queue until signaled.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/face-recognition-service/internal/adapter/bus/rabbitmq"
	"github.com/fairyhunter13/face-recognition-service/internal/adapter/facemodel/insight"
	"github.com/fairyhunter13/face-recognition-service/internal/adapter/facemodel/stub"
	"github.com/fairyhunter13/face-recognition-service/internal/adapter/observability"
	"github.com/fairyhunter13/face-recognition-service/internal/config"
	"github.com/fairyhunter13/face-recognition-service/internal/domain"
	"github.com/fairyhunter13/face-recognition-service/internal/index"
	"github.com/fairyhunter13/face-recognition-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Expose worker metrics on a dedicated port; the HTTP API lives on
	// the server process only.
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.MetricsPort), mux); err != nil {
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

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker_" + uuid.NewString()[:8]
	}
	slog.Info("starting worker", slog.String("worker_id", workerID), slog.String("env", cfg.AppEnv))

	// Face model
	var model domain.FaceModel
	switch cfg.FaceModelProvider {
	case config.ModelProviderInsight:
		model = insight.New(cfg)
	default:
		model = stub.New(cfg.FaceModelDim)
	}

	// Recognition index + startup snapshot
	idx := index.New(cfg.FaceModelDim, float32(cfg.RecognitionThreshold))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	worker.NewLoader(cfg, idx).Load(ctx)

	// Bus consumer
	conn, err := rabbitmq.Dial(ctx, cfg)
	if err != nil {
		slog.Error("bus connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	handler := worker.NewTaskHandler(idx, model, workerID)
	consumer := rabbitmq.NewConsumer(conn, cfg, handler)

	slog.Info("worker consuming, send TERM or INT to terminate")
	if err := consumer.Run(ctx); err != nil {
		slog.Error("consumer error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
