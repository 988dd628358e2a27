package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/manthysbr/deep-research/internal/adapters/providers"
	"github.com/manthysbr/deep-research/internal/adapters/search"
	"github.com/manthysbr/deep-research/internal/config"
	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/internal/core/ports"
	"github.com/manthysbr/deep-research/internal/core/services"
)

// app holds the wired services of one process.
type app struct {
	store    *services.JobStore
	executor *services.Executor
	sessions *services.SessionManager
}

func buildApp(ctx context.Context, logger *slog.Logger, cfg *domain.AppConfig) (*app, error) {
	backend, err := providers.Build(cfg)
	if err != nil {
		return nil, err
	}
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := providers.CheckModel(checkCtx, backend); err != nil {
		// Jobs will fail with the backend's own error; the server still starts.
		logger.Warn("llm model check failed", "model", cfg.LLM.DefaultModel, "error", err)
	}
	logger.Info("llm backend ready",
		"mode", cfg.LLM.Mode,
		"model", cfg.LLM.DefaultModel,
		"api_key", config.MaskSecret(cfg.LLM.APIKey),
	)

	var searcher ports.Searcher
	if cfg.Search.Enabled {
		searcher = search.NewWebSearcher(cfg.Search.BraveAPIKey, cfg.Search.MaxResults)
	}
	return wireApp(logger, cfg, backend, searcher), nil
}

func wireApp(logger *slog.Logger, cfg *domain.AppConfig, backend ports.Backend, searcher ports.Searcher) *app {
	researcher := services.NewResearcher(logger, backend).WithSearcher(searcher)
	supervisor := services.NewSupervisor(logger, backend, researcher, services.SupervisorConfig{
		MaxConcurrentResearchers: cfg.Supervisor.MaxConcurrentResearchers,
		MaxResearcherIterations:  cfg.Supervisor.MaxResearcherIterations,
	})
	runners := map[domain.ResearchMode]ports.Runner{
		domain.ResearchModeDeep:  services.NewResearchPipeline(logger, backend, supervisor),
		domain.ResearchModeQuick: services.NewDirectRunner(backend),
	}

	store := services.NewJobStore(logger, services.JobStoreConfig{
		MaxLogLines: cfg.Jobs.MaxLogLines,
		Retention:   cfg.Jobs.Retention,
	})
	scheduler := services.NewJobScheduler(logger, services.SchedulerConfig{
		MaxConcurrentJobs: cfg.Jobs.MaxConcurrent,
		QueueDepth:        cfg.Jobs.QueueDepth,
	})
	bus := services.NewEventBus(logger)
	executor := services.NewExecutor(logger, store, scheduler, bus, runners, services.ExecutorConfig{
		Timeout: cfg.Jobs.Timeout,
	})

	sessions := services.NewSessionManager(logger, services.NewResearchSessionHandler(logger, executor), services.SessionConfig{
		InboundCapacity:  cfg.Sessions.InboundCapacity,
		OutboundCapacity: cfg.Sessions.OutboundCapacity,
		ShutdownGrace:    cfg.Sessions.ShutdownGrace,
		MaxSessions:      cfg.Sessions.MaxSessions,
		MaxInflight:      cfg.Sessions.MaxInflight,
	})

	return &app{store: store, executor: executor, sessions: sessions}
}
