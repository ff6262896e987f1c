// Command server starts the face recognition control plane: the HTTP
// API, the Postgres store and the bus producer the workers answer.
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

	"github.com/fairyhunter13/face-recognition-service/internal/adapter/bus/rabbitmq"
	redis "github.com/fairyhunter13/face-recognition-service/internal/adapter/cache/redis"
	httpserver "github.com/fairyhunter13/face-recognition-service/internal/adapter/httpserver"
	"github.com/fairyhunter13/face-recognition-service/internal/adapter/observability"
	"github.com/fairyhunter13/face-recognition-service/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/face-recognition-service/internal/app"
	"github.com/fairyhunter13/face-recognition-service/internal/config"
	"github.com/fairyhunter13/face-recognition-service/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, bus and task instrumentation.
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

	// Infra: DB pool + schema
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Repositories
	tenantRepo := postgres.NewTenantRepo(pool)
	userRepo := postgres.NewUserRepo(pool)
	faceRepo := postgres.NewFaceRepo(pool)
	sessionRepo := postgres.NewSessionRepo(pool)
	snapshotRepo := postgres.NewSnapshotRepo(pool)

	// Redis-backed analytics report cache. The cache is an optimization:
	// a down Redis degrades reports to recompute, it never fails requests.
	rdb, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("redis connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = rdb.Close() }()
	reportCache := redis.NewReportCache(rdb)

	// Bus connection + RPC producer
	conn, err := rabbitmq.Dial(ctx, cfg)
	if err != nil {
		slog.Error("bus connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()
	producer, err := rabbitmq.NewProducer(ctx, conn, cfg)
	if err != nil {
		slog.Error("bus producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = producer.Close() }()

	// Usecases
	loc, err := time.LoadLocation(cfg.AnalyticsTimezone)
	if err != nil {
		slog.Warn("unknown analytics timezone, using UTC", slog.String("tz", cfg.AnalyticsTimezone))
		loc = time.UTC
	}
	viewerSvc := usecase.NewViewerService(tenantRepo, userRepo, faceRepo, sessionRepo, producer, reportCache)
	adminSvc := usecase.NewAdminService(tenantRepo, userRepo, faceRepo, snapshotRepo, producer, reportCache)
	analyticsSvc := usecase.NewAnalyticsService(sessionRepo, reportCache, loc, cfg.AnalyticsCacheTTL)

	// Readiness checks
	dbCheck, redisCheck, busCheck := app.BuildReadinessChecks(pool, reportCache, conn)

	// HTTP server
	srv := httpserver.NewServer(cfg, viewerSvc, adminSvc, analyticsSvc, dbCheck, redisCheck, busCheck)
	handler := app.BuildRouter(cfg, srv)

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
}
