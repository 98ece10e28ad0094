package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xhad/veritas/internal/types"
	"github.com/xhad/veritas/pkg/cache"
	"github.com/xhad/veritas/pkg/chat"
	"github.com/xhad/veritas/pkg/config"
	"github.com/xhad/veritas/pkg/history"
	"github.com/xhad/veritas/pkg/index"
	"github.com/xhad/veritas/pkg/ingest"
	"github.com/xhad/veritas/pkg/llm"
	"github.com/xhad/veritas/pkg/logging"
	"github.com/xhad/veritas/pkg/metrics"
	"github.com/xhad/veritas/pkg/processor"
	"github.com/xhad/veritas/pkg/prompt"
	"github.com/xhad/veritas/pkg/retrieval"
	"github.com/xhad/veritas/pkg/store"
	"go.uber.org/zap"
)

// app holds the components shared by every command.
type app struct {
	config   *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	chat     *chat.Orchestrator
	ingest   *ingest.Service
	history  types.HistoryStore

	closers []func()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(joined...))
	}
	return cfg, nil
}

// newApp wires every component from the loaded configuration. opts are
// applied to the ingestion service after the defaults.
func newApp(ctx context.Context, opts ...ingest.Option) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.closers = append(a.closers, func() { _ = logger.Sync() })
	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, ingestOpts []ingest.Option) error {
	cfg := a.config
	m := metrics.New(metrics.MetricsConfig{Registry: a.registry})

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.EmbeddingModel,
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.LLM.APIKey,
		BatchSize: cfg.LLM.EmbeddingBatchSize,
	})
	if err != nil {
		return err
	}
	engine, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
	})
	if err != nil {
		return err
	}

	guard := func(name string) *llm.Guard {
		return llm.NewGuard(llm.GuardConfig{
			Name:            name,
			Timeout:         cfg.LLM.Timeout,
			RateLimit:       cfg.LLM.RateLimit,
			Burst:           cfg.LLM.Burst,
			BreakerFailures: cfg.LLM.BreakerFailures,
			BreakerCooldown: cfg.LLM.BreakerCooldown,
		})
	}
	guardedEmbedder := llm.GuardEmbedder(embedder, guard("embedding"))
	guardedCompleter := llm.GuardCompleter(engine, guard("completion"))

	ixOpts := []index.Option{index.WithLogger(a.logger)}
	if cfg.Database.URL != "" {
		vs, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
			ConnString: cfg.Database.URL,
			TableName:  cfg.Database.TableName,
			VectorDim:  cfg.Database.VectorDim,
			BatchSize:  cfg.Database.BatchSize,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, vs.Close)
		ixOpts = append(ixOpts, index.WithBackend(vs))

		hs, err := store.NewHistoryStore(ctx, vs.Pool(), cfg.Database.HistoryTable)
		if err != nil {
			return err
		}
		a.history = hs
	} else {
		a.logger.Warn("DATABASE_URL is not set, documents and history are kept in memory")
		a.history = history.NewMemory()
	}

	ix, err := index.Open(ctx, ixOpts...)
	if err != nil {
		return err
	}

	var answers types.CacheStore
	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedisFromURL(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = rc.Close() })
		answers = rc
	} else {
		answers = cache.NewMemory()
	}

	gens := cache.NewGenerations()
	retriever := retrieval.NewWithConfig(retrieval.EngineConfig{
		TopK:      cfg.Retrieval.TopK,
		Threshold: cfg.Retrieval.RelevanceThreshold,
	}, guardedEmbedder, ix, a.logger)
	assembler := prompt.NewWithConfig(prompt.AssemblerConfig{MaxContextLength: cfg.Retrieval.MaxContextLength})

	a.chat = chat.NewWithConfig(chat.OrchestratorConfig{
		CacheTTL:     cfg.Cache.TTL,
		CachePrefix:  cfg.Cache.Prefix,
		MaxRetries:   cfg.LLM.MaxRetries,
		RetryBackoff: cfg.LLM.RetryBackoff,
		MaxBackoff:   cfg.LLM.MaxBackoff,
	}, retriever, assembler, guardedCompleter,
		chat.WithCache(answers), chat.WithGenerations(gens), chat.WithLogger(a.logger), chat.WithMetrics(m))

	a.ingest = ingest.NewWithConfig(ingest.ServiceConfig{
		BatchSize:   cfg.LLM.EmbeddingBatchSize,
		CachePrefix: cfg.Cache.Prefix,
	}, processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
	}), guardedEmbedder, ix,
		append([]ingest.Option{ingest.WithCache(answers), ingest.WithGenerations(gens), ingest.WithLogger(a.logger), ingest.WithMetrics(m)}, ingestOpts...)...)

	return nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
