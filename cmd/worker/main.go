package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/iago/dataset-hub/internal/ai"
	"github.com/iago/dataset-hub/internal/artifact"
	"github.com/iago/dataset-hub/internal/chain"
	"github.com/iago/dataset-hub/internal/config"
	"github.com/iago/dataset-hub/internal/domain"
	"github.com/iago/dataset-hub/internal/extract"
	"github.com/iago/dataset-hub/internal/generate"
	"github.com/iago/dataset-hub/internal/hubclient"
	"github.com/iago/dataset-hub/internal/outbox"
	"github.com/iago/dataset-hub/internal/search"
	"github.com/iago/dataset-hub/internal/worker"
	"go.uber.org/zap"
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
	logger = logger.With(zap.String("worker_id", cfg.Worker.ID))

	plan, err := config.LoadPlan(cfg.PlanFile)
	if err != nil {
		logger.Fatal("generation plan not loaded", zap.String("path", cfg.PlanFile), zap.Error(err))
	}
	mode, err := worker.ParseMode(cfg.Worker.Mode)
	if err != nil {
		logger.Fatal("invalid worker mode", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := artifact.NewFSStore(artifact.Layout{AssetsDir: cfg.Worker.AssetsDir, OutputDir: cfg.Worker.OutputDir})
	if err != nil {
		logger.Fatal("artifact store not initialized", zap.Error(err))
	}
	checkpoints, err := chain.NewFileCheckpointStore(cfg.Worker.ProgressDir)
	if err != nil {
		logger.Fatal("checkpoint store not initialized", zap.Error(err))
	}
	pending, err := outbox.New(cfg.Worker.OutboxDir, logger)
	if err != nil {
		logger.Fatal("outbox not initialized", zap.Error(err))
	}

	hub := hubclient.New(hubclient.Config{BaseURL: cfg.Worker.HubURL, Token: cfg.Worker.HubToken})

	generator := ai.NewChatClient(ai.ChatClientConfig{
		APIKey:     cfg.Generator.APIKey,
		BaseURL:    cfg.Generator.BaseURL,
		Timeout:    cfg.Generator.Timeout,
		MaxRetries: cfg.Generator.MaxRetries,
	})
	if !generator.Available() {
		logger.Warn("generator api key not configured, every task will fail")
	}
	models := ai.NewModelRouter(ai.ModelRouterConfig{
		Primary:  cfg.Generator.ModelPrimary,
		Fallback: cfg.Generator.ModelFallback,
	})

	articles := search.NewClient(search.ClientConfig{
		RequestInterval: cfg.Search.RequestInterval,
		Timeout:         cfg.Search.Timeout,
		UserAgent:       cfg.Search.UserAgent,
	})
	loraChain, err := generate.NewLoraChainHandler(store, generator, models, chain.NewRunner(checkpoints, logger), plan.ChainSteps)
	if err != nil {
		logger.Fatal("lora chain not configured", zap.Error(err))
	}

	dispatcher := generate.NewDispatcher()
	dispatcher.Register(domain.PipelineRagSource, generate.NewRagSourceHandler(articles, extract.ExtractText, generator, models, logger))
	dispatcher.Register(domain.PipelinePersona, generate.NewPersonaHandler(store, generator, models))
	dispatcher.Register(domain.PipelineLoraChain, loraChain)
	dispatcher.Register(domain.PipelineParser, generate.NewParserHandler(store, generator, models))

	runtime := worker.NewRuntime(
		worker.Config{WorkerID: cfg.Worker.ID, Mode: mode, PollInterval: cfg.Worker.PollInterval},
		dispatcher,
		store,
		pending,
		worker.NewSyncer(hub, store, logger),
		hub,
		logger,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		outbox.NewSubmitter(pending, hub, cfg.Worker.SubmitInterval, logger).Run(ctx)
	}()

	logger.Info("worker started",
		zap.String("hub_url", cfg.Worker.HubURL),
		zap.String("mode", string(mode)),
		zap.Int("chain_steps", len(plan.ChainSteps)),
	)
	runtime.Run(ctx)
	wg.Wait()
	logger.Info("worker stopped")
}
