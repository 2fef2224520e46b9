package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/iago/dataset-hub/internal/config"
	"github.com/iago/dataset-hub/internal/domain"
	httpserver "github.com/iago/dataset-hub/internal/http"
	"github.com/iago/dataset-hub/internal/http/handlers"
	"github.com/iago/dataset-hub/internal/ledger"
	"github.com/iago/dataset-hub/internal/logstore"
	"github.com/iago/dataset-hub/internal/monitor"
	"github.com/iago/dataset-hub/internal/repository"
	"github.com/iago/dataset-hub/internal/search"
	"github.com/iago/dataset-hub/internal/service"
	"github.com/iago/dataset-hub/internal/sink"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if _, err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Warn("failed loading .env files", zap.Error(err))
	}
	cfg := config.Load()
	plan, err := config.LoadPlan(cfg.PlanFile)
	if err != nil {
		logger.Fatal("generation plan not loaded", zap.String("path", cfg.PlanFile), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The sink creates the output tree the sqlite file lives in.
	results, err := sink.NewResultHandler(sink.Config{BaseDir: cfg.Hub.OutputDir}, logger)
	if err != nil {
		logger.Fatal("result sink not initialized", zap.Error(err))
	}
	store, storeCloser := setupStore(ctx, cfg, logger)
	defer storeCloser()
	jobs := ledger.NewManager(store, logger)
	distributor := service.NewDistributor(jobs, results, plan.GenerationTargets, logger)

	startProducers(ctx, cfg, plan, jobs, results, logger)

	handler := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            handlers.NewAPI(distributor, logger),
		Logger:         logger,
		WorkerToken:    cfg.Hub.WorkerToken,
		RateLimitRPS:   cfg.Hub.RateLimitRPS,
		RateLimitBurst: cfg.Hub.RateLimitBurst,
	})

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Hub.Host, cfg.Hub.Port),
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := startHealthServer(cfg.Hub.GRPCHealthAddr, logger)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("hub listening", zap.String("addr", server.Addr))
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
		}
	}
	stop()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// setupStore picks the ledger backend. Any backend that fails to start falls
// back to memory so the hub keeps serving.
func setupStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repository.JobStore, func()) {
	switch cfg.Store.Backend {
	case "sqlite":
		store, err := repository.NewSQLiteJobStore(ctx, cfg.Store.SQLitePath)
		if err != nil {
			logger.Error("sqlite store failed, fallback to memory", zap.String("path", cfg.Store.SQLitePath), zap.Error(err))
			break
		}
		logger.Info("sqlite store initialized", zap.String("path", cfg.Store.SQLitePath))
		return store, func() { _ = store.Close() }
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			logger.Warn("DATABASE_URL not configured, using memory store")
			break
		}
		store, err := repository.NewPostgresJobStore(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			logger.Error("postgres store failed, fallback to memory", zap.Error(err))
			break
		}
		logger.Info("postgres store initialized")
		return store, store.Close
	case "redis":
		store, err := repository.NewRedisJobStore(ctx, repository.RedisConfig{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			Prefix:   cfg.Store.RedisPrefix,
		})
		if err != nil {
			logger.Error("redis store failed, fallback to memory", zap.Error(err))
			break
		}
		logger.Info("redis store initialized", zap.String("addr", cfg.Store.RedisAddr))
		return store, func() { _ = store.Close() }
	case "memory", "":
	default:
		logger.Warn("unknown store backend, using memory store", zap.String("backend", cfg.Store.Backend))
	}
	return repository.NewMemoryJobStore(), func() {}
}

func startProducers(ctx context.Context, cfg config.Config, plan config.Plan, jobs *ledger.Manager, results *sink.ResultHandler, logger *zap.Logger) {
	sourceDir, err := results.Dir(domain.PipelineRagSource)
	if err != nil {
		logger.Fatal("source document dir not routed", zap.Error(err))
	}

	processedDocuments, err := logstore.OpenSeenLog(filepath.Join(cfg.Hub.OutputDir, "processed_markdown.log"))
	if err != nil {
		logger.Fatal("processed markdown log not opened", zap.Error(err))
	}
	folder := monitor.NewFolderMonitor(sourceDir, jobs, processedDocuments, plan.GenerationTargets, cfg.Hub.FolderMonitorInterval, logger)
	go folder.Run(ctx)
	logger.Info("folder monitor started", zap.String("dir", sourceDir), zap.Int("known_documents", processedDocuments.Len()))

	if !cfg.Hub.SearchEnabled {
		logger.Info("paper search disabled by configuration")
		return
	}
	keywords := plan.SearchKeywords
	if len(cfg.Hub.SearchKeywords) > 0 {
		keywords = cfg.Hub.SearchKeywords
	}
	processedDOIs, err := logstore.OpenSeenLog(filepath.Join(cfg.Hub.OutputDir, "processed_jstage_dois.log"))
	if err != nil {
		logger.Fatal("processed doi log not opened", zap.Error(err))
	}
	searcher := search.NewClient(search.ClientConfig{
		BaseURL:         cfg.Search.BaseURL,
		RequestInterval: cfg.Search.RequestInterval,
		Timeout:         cfg.Search.Timeout,
		PageSize:        cfg.Hub.SearchResultsPerQuery,
		UserAgent:       cfg.Search.UserAgent,
	})
	papers := monitor.NewSearchMonitor(searcher, jobs, processedDOIs, keywords, cfg.Hub.SearchInterval, logger)
	go papers.Run(ctx)
	logger.Info("paper search monitor started", zap.Int("keywords", len(keywords)), zap.Duration("interval", cfg.Hub.SearchInterval))
}

// startHealthServer exposes the gRPC health service when addr is set.
func startHealthServer(addr string, logger *zap.Logger) *grpc.Server {
	if addr == "" {
		return nil
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("grpc health listener failed", zap.String("addr", addr), zap.Error(err))
		return nil
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		logger.Info("grpc health listening", zap.String("addr", addr))
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc health server failed", zap.Error(err))
		}
	}()
	return grpcServer
}
