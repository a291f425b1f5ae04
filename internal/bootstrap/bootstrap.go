package bootstrap

import (
	"fmt"
	"time"

	"github.com/aihub/policyqa-go/internal/cache"
	"github.com/aihub/policyqa-go/internal/config"
	"github.com/aihub/policyqa-go/internal/document"
	"github.com/aihub/policyqa-go/internal/knowledge"
	"github.com/aihub/policyqa-go/internal/logger"
	"github.com/aihub/policyqa-go/internal/pipeline"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

// Container 依赖注入容器的全局实例
var Container *dig.Container

// App 组装完成的应用
type App struct {
	Config       *config.Config
	Orchestrator *pipeline.Orchestrator

	redisCache *cache.RedisCache
}

// InitContainer 初始化依赖注入容器
func InitContainer() *dig.Container {
	Container = dig.New()
	return Container
}

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container) error {
	// 注册配置
	if err := container.Provide(func() (*config.Config, error) {
		cfg := config.GetAppConfig()
		if cfg == nil {
			return nil, fmt.Errorf("config not loaded")
		}
		return cfg, nil
	}); err != nil {
		return err
	}

	// 注册文档加载器
	if err := container.Provide(func(cfg *config.Config) pipeline.DocumentLoader {
		return document.NewLoader(cfg.StageTimeout())
	}); err != nil {
		return err
	}

	// 注册向量化器
	if err := container.Provide(func(cfg *config.Config) knowledge.Embedder {
		return knowledge.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model)
	}); err != nil {
		return err
	}

	// 注册向量存储：配置了Milvus则使用，否则回退内存实现
	if err := container.Provide(func(cfg *config.Config) (knowledge.VectorStore, error) {
		if cfg.VectorStore.Provider == "milvus" {
			store, err := knowledge.NewMilvusVectorStore(knowledge.MilvusOptions{
				Address:          cfg.VectorStore.Milvus.Address,
				Username:         cfg.VectorStore.Milvus.Username,
				Password:         cfg.VectorStore.Milvus.Password,
				Database:         cfg.VectorStore.Milvus.Database,
				CollectionPrefix: cfg.VectorStore.Milvus.CollectionPrefix,
				VectorSize:       cfg.VectorStore.Milvus.VectorSize,
				UseTLS:           cfg.VectorStore.Milvus.TLS,
			})
			if err != nil {
				return nil, err
			}
			logger.Info("milvus vector store connected",
				zap.String("address", cfg.VectorStore.Milvus.Address))
			return store, nil
		}
		logger.Info("using in-memory vector store")
		return knowledge.NewMemoryVectorStore(), nil
	}); err != nil {
		return err
	}

	// 注册缓存：配置了Redis则使用，连接失败时降级为内存缓存
	if err := container.Provide(func(cfg *config.Config) cache.Cache {
		if cfg.Cache.Provider == "redis" {
			redisCache, err := cache.NewRedisCache(cache.RedisOptions{
				Host:     cfg.Cache.Redis.Host,
				Port:     cfg.Cache.Redis.Port,
				Password: cfg.Cache.Redis.Password,
				DB:       cfg.Cache.Redis.DB,
			})
			if err == nil {
				logger.Info("redis cache connected",
					zap.String("host", cfg.Cache.Redis.Host))
				return redisCache
			}
			logger.Warn("redis unavailable, falling back to in-memory cache", zap.Error(err))
		}
		return cache.NewMemoryCache()
	}); err != nil {
		return err
	}

	// 注册答案生成器
	if err := container.Provide(func(cfg *config.Config) pipeline.AnswerSynthesizer {
		return knowledge.NewSynthesizer(knowledge.SynthesizerOptions{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		})
	}); err != nil {
		return err
	}

	// 注册Webhook通知器
	if err := container.Provide(func(cfg *config.Config) *pipeline.WebhookNotifier {
		return pipeline.NewWebhookNotifier(cfg.Webhook.URL,
			time.Duration(cfg.Webhook.TimeoutSeconds)*time.Second)
	}); err != nil {
		return err
	}

	// 注册编排器
	if err := container.Provide(func(
		cfg *config.Config,
		loader pipeline.DocumentLoader,
		embedder knowledge.Embedder,
		store knowledge.VectorStore,
		synthesizer pipeline.AnswerSynthesizer,
		cacheStore cache.Cache,
		notifier *pipeline.WebhookNotifier,
	) *pipeline.Orchestrator {
		return pipeline.NewOrchestrator(loader, embedder, store, synthesizer, cacheStore, notifier, pipeline.Options{
			ChunkSize:      cfg.Pipeline.ChunkSize,
			ChunkOverlap:   cfg.Pipeline.ChunkOverlap,
			TopK:           cfg.Pipeline.TopK,
			MaxConcurrency: cfg.Pipeline.MaxConcurrency,
			CacheTTL:       cfg.CacheTTL(),
			StageTimeout:   cfg.StageTimeout(),
			RequestTimeout: cfg.RequestTimeout(),
			Retry: pipeline.RetryPolicy{
				MaxAttempts: cfg.Pipeline.RetryMaxAttempts,
				BaseDelay:   cfg.RetryBaseDelay(),
				MaxDelay:    5 * time.Second,
			},
		})
	}); err != nil {
		return err
	}

	return nil
}

// NewApp 加载配置、初始化日志并组装整条管道
func NewApp() (*App, error) {
	if err := config.LoadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := config.GetAppConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logger.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	container := InitContainer()
	if err := RegisterProviders(container); err != nil {
		return nil, fmt.Errorf("failed to register providers: %w", err)
	}

	app := &App{Config: cfg}
	if err := container.Invoke(func(orchestrator *pipeline.Orchestrator, cacheStore cache.Cache) {
		app.Orchestrator = orchestrator
		if redisCache, ok := cacheStore.(*cache.RedisCache); ok {
			app.redisCache = redisCache
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to build application: %w", err)
	}

	return app, nil
}

// Shutdown 释放外部连接并刷新日志
func (a *App) Shutdown() {
	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			logger.Warn("redis close failed", zap.Error(err))
		}
	}
	logger.Sync()
}
