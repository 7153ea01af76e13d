package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/ulifeai/agentb/config"
	"github.com/ulifeai/agentb/coordinator"
	"github.com/ulifeai/agentb/ctxmgr"
	"github.com/ulifeai/agentb/engine"
	"github.com/ulifeai/agentb/hooks"
	"github.com/ulifeai/agentb/internal/telemetryotel"
	"github.com/ulifeai/agentb/internal/telemetryprom"
	"github.com/ulifeai/agentb/internal/telemetryzap"
	"github.com/ulifeai/agentb/llm"
	"github.com/ulifeai/agentb/llm/anthropic"
	"github.com/ulifeai/agentb/llm/openai"
	"github.com/ulifeai/agentb/store"
	"github.com/ulifeai/agentb/store/inmem"
	"github.com/ulifeai/agentb/store/pgstore"
	"github.com/ulifeai/agentb/store/redisstore"
	"github.com/ulifeai/agentb/telemetry"
	"github.com/ulifeai/agentb/tools"
	"github.com/ulifeai/agentb/toolexec"
)

// app bundles the collaborators built from a Config so commands can share
// the same bootstrap path whether they run one chat turn or serve HTTP.
type app struct {
	cfg         config.Config
	coordinator *coordinator.Coordinator
	threads     store.ThreadStore
	logger      telemetry.Logger
	metrics     telemetry.Metrics
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger, err := buildLogger(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	metrics := buildMetrics(cfg.Telemetry)

	llmClient, err := buildLLMClient(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}

	threads, messages, runs, err := buildStores(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("build stores: %w", err)
	}

	provider := tools.NewAggregator(tools.WithLogger(logger))
	executor := toolexec.New(provider, toolexec.WithLogger(logger), toolexec.WithSchemaValidation())
	ctxManager := ctxmgr.New(llmClient, ctxmgr.NewClientSummarizer(llmClient))

	c := coordinator.New(coordinator.Deps{
		EngineDeps: engine.Deps{
			LLMClient:      llmClient,
			Provider:       provider,
			Executor:       executor,
			ContextManager: ctxManager,
			Messages:       messages,
			Runs:           runs,
			Logger:         logger,
		},
		Threads:       threads,
		Messages:      messages,
		Runs:          runs,
		Bus:           hooks.NewBus(),
		DefaultConfig: cfg.RunDefaults,
	})

	return &app{cfg: cfg, coordinator: c, threads: threads, logger: logger, metrics: metrics}, nil
}

func buildLogger(cfg config.TelemetryConfig) (telemetry.Logger, error) {
	switch cfg.Logger {
	case "zap":
		return telemetryzap.NewProduction()
	case "noop", "":
		return telemetry.NewNoopLogger(), nil
	default:
		return nil, fmt.Errorf("unknown logger backend %q", cfg.Logger)
	}
}

func buildMetrics(cfg config.TelemetryConfig) telemetry.Metrics {
	switch cfg.Metrics {
	case "prometheus":
		return telemetryprom.New(prometheus.DefaultRegisterer)
	case "otel":
		return telemetryotel.NewMetrics()
	default:
		return nil
	}
}

func buildLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewFromAPIKey(cfg.APIKey, cfg.Model)
	case "anthropic", "":
		return anthropic.NewFromAPIKey(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func buildStores(ctx context.Context, cfg config.StoreConfig) (store.ThreadStore, store.MessageStore, store.RunStore, error) {
	switch cfg.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return redisstore.NewThreadStore(rdb, cfg.KeyPrefix),
			redisstore.NewMessageStore(rdb, cfg.KeyPrefix),
			redisstore.NewRunStore(rdb, cfg.KeyPrefix),
			nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pgstore.Init(ctx, pool); err != nil {
			return nil, nil, nil, fmt.Errorf("init postgres schema: %w", err)
		}
		return pgstore.NewThreadStore(pool), pgstore.NewMessageStore(pool), pgstore.NewRunStore(pool), nil
	case "inmem", "":
		return inmem.NewThreadStore(), inmem.NewMessageStore(), inmem.NewRunStore(), nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
