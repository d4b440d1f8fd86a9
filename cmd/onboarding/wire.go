package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/internal/agent"
	"github.com/onboarding-agent/backend/internal/cache/memory"
	rediscache "github.com/onboarding-agent/backend/internal/cache/redis"
	"github.com/onboarding-agent/backend/internal/chunker"
	"github.com/onboarding-agent/backend/internal/directory"
	"github.com/onboarding-agent/backend/internal/fingerprint"
	"github.com/onboarding-agent/backend/internal/ingestion"
	"github.com/onboarding-agent/backend/internal/llm"
	"github.com/onboarding-agent/backend/internal/storage/sqlite"
	"github.com/onboarding-agent/backend/internal/tools"
	"github.com/onboarding-agent/backend/internal/vector"
	"github.com/onboarding-agent/backend/internal/vector/milvus"
	vectorsqlite "github.com/onboarding-agent/backend/internal/vector/sqlite"
	"github.com/onboarding-agent/backend/pkg/config"
	"github.com/onboarding-agent/backend/pkg/logger"
)

// components holds the handles built once at startup and shared by every
// command.
type components struct {
	db          *sqlite.Client
	redis       *rediscache.Client
	index       *vector.Index
	coordinator *ingestion.Coordinator
	agent       *agent.Agent
}

func (c *components) Close() {
	if c.index != nil {
		if err := c.index.Close(); err != nil {
			logger.Warn("Failed to close vector index", zap.Error(err))
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}
}

func build(ctx context.Context, cfg *config.Config) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.db, err = sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	if err = c.db.InitSchema(); err != nil {
		return nil, err
	}

	if cfg.Conversation.Backend == "redis" || cfg.Cache.Backend == "redis" {
		c.redis, err = rediscache.NewClient(ctx, rediscache.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
	}

	embedder, err := buildEmbedder(cfg, c.redis)
	if err != nil {
		return nil, err
	}

	store, err := buildVectorStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.index = vector.NewIndex(store, embedder)

	c.coordinator = ingestion.NewCoordinator(
		ingestion.NewLoader(cfg.Ingestion.PoliciesDir),
		chunker.New(
			chunker.WithChunkSize(cfg.Ingestion.ChunkSize),
			chunker.WithOverlap(cfg.Ingestion.ChunkOverlap),
		),
		c.index,
		fingerprint.NewStore(cfg.Ingestion.StateFile),
		ingestion.WithRecorder(c.db),
	)

	registry, err := tools.NewOnboardingRegistry(c.index, directory.Source{
		OrgChartPath: cfg.Data.OrgChartPath,
		RolesPath:    cfg.Data.RolesPath,
	}, cfg.Agent.SearchK)
	if err != nil {
		return nil, err
	}

	var conversations agent.ConversationStore = c.db
	if cfg.Conversation.Backend == "redis" {
		conversations = c.redis
	}

	model := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	c.agent = agent.New(model, conversations, registry, agent.WithMaxSteps(cfg.Agent.MaxSteps))

	logger.Info("Components initialized",
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("conversation_backend", cfg.Conversation.Backend),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	return c, nil
}

func buildEmbedder(cfg *config.Config, redis *rediscache.Client) (vector.Embedder, error) {
	embedder := llm.NewEmbedder(llm.EmbedderConfig{
		APIKey:    cfg.Embedding.APIKey,
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		BatchSize: cfg.Embedding.BatchSize,
		Timeout:   time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
	})

	var cache vector.EmbeddingCache
	switch cfg.Cache.Backend {
	case "memory":
		cache = memory.NewEmbeddingCache(cfg.Cache.EmbeddingTTL, 10*time.Minute)
	case "redis":
		cache = redis
	case "none", "":
		return embedder, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	return vector.NewCachedEmbedder(embedder, cache, cfg.Embedding.Model, cfg.Cache.EmbeddingTTL), nil
}

func buildVectorStore(ctx context.Context, cfg *config.Config) (vector.Store, error) {
	switch cfg.Vector.Backend {
	case "sqlite", "":
		return vectorsqlite.NewStore(cfg.Vector.Path)
	case "milvus":
		return milvus.NewStore(ctx, milvus.Config{
			Address:    cfg.Milvus.Endpoint,
			APIKey:     cfg.Milvus.APIKey,
			Collection: cfg.Milvus.CollectionName,
			Dimension:  cfg.Embedding.Dimensions,
		})
	default:
		return nil, errors.New("unknown vector backend " + cfg.Vector.Backend)
	}
}
