package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Embedding   EmbeddingConfig
	LLM         LLMConfig
	VectorStore VectorStoreConfig
	Cache       CacheConfig
	Pipeline    PipelineConfig
	Webhook     WebhookConfig
}

type ServerConfig struct {
	Env      string
	LogLevel string
}

type EmbeddingConfig struct {
	APIKey  string `validate:"required"`
	BaseURL string
	Model   string `validate:"required"`
}

type LLMConfig struct {
	APIKey      string `validate:"required"`
	BaseURL     string
	Model       string `validate:"required"`
	MaxTokens   int    `validate:"gt=0"`
	Temperature float64
}

type VectorStoreConfig struct {
	Provider string // milvus 或 memory
	Milvus   MilvusConfig
}

type MilvusConfig struct {
	Address          string
	Username         string
	Password         string
	Database         string
	CollectionPrefix string
	VectorSize       int
	TLS              bool
}

type CacheConfig struct {
	Provider   string // redis 或 memory
	Redis      RedisConfig
	TTLSeconds int `validate:"gt=0"`
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type PipelineConfig struct {
	ChunkSize             int `validate:"gt=0"`
	ChunkOverlap          int `validate:"gte=0"`
	TopK                  int `validate:"gt=0"`
	MaxConcurrency        int `validate:"gt=0"`
	StageTimeoutSeconds   int `validate:"gt=0"`
	RequestTimeoutSeconds int `validate:"gt=0"`
	RetryMaxAttempts      int `validate:"gt=0"`
	RetryBaseDelayMS      int `validate:"gt=0"`
}

type WebhookConfig struct {
	URL            string
	TimeoutSeconds int
}

var AppConfig *Config

// LoadConfig 加载配置（默认值 + 环境变量覆盖）
func LoadConfig() error {
	// 设置默认值
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")

	// 向量化服务默认值
	viper.SetDefault("embedding.base_url", "")
	viper.SetDefault("embedding.model", "text-embedding-3-small")

	// LLM默认值
	viper.SetDefault("llm.base_url", "")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.max_tokens", 512)
	viper.SetDefault("llm.temperature", 0.2)

	// 向量存储默认值
	viper.SetDefault("vector_store.provider", "memory")
	viper.SetDefault("vector_store.milvus.address", "")
	viper.SetDefault("vector_store.milvus.database", "default")
	viper.SetDefault("vector_store.milvus.collection_prefix", "policy_chunks")
	viper.SetDefault("vector_store.milvus.vector_size", 1536)
	viper.SetDefault("vector_store.milvus.tls", false)

	// 缓存默认值
	viper.SetDefault("cache.provider", "memory")
	viper.SetDefault("cache.redis.host", "")
	viper.SetDefault("cache.redis.port", "6379")
	viper.SetDefault("cache.redis.db", 0)
	viper.SetDefault("cache.ttl_seconds", 3600)

	// 管道默认值
	viper.SetDefault("pipeline.chunk_size", 1000)
	viper.SetDefault("pipeline.chunk_overlap", 200)
	viper.SetDefault("pipeline.top_k", 5)
	viper.SetDefault("pipeline.max_concurrency", 10)
	viper.SetDefault("pipeline.stage_timeout_seconds", 30)
	viper.SetDefault("pipeline.request_timeout_seconds", 120)
	viper.SetDefault("pipeline.retry_max_attempts", 3)
	viper.SetDefault("pipeline.retry_base_delay_ms", 200)

	// Webhook默认值
	viper.SetDefault("webhook.url", "")
	viper.SetDefault("webhook.timeout_seconds", 10)

	// 读取环境变量
	viper.SetEnvPrefix("POLICYQA")
	viper.AutomaticEnv()

	if env := os.Getenv("ENV"); env != "" {
		viper.Set("server.env", env)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		viper.Set("server.log_level", level)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		viper.Set("embedding.api_key", key)
	}
	if url := os.Getenv("EMBEDDING_BASE_URL"); url != "" {
		viper.Set("embedding.base_url", url)
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		viper.Set("embedding.model", model)
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		viper.Set("llm.api_key", key)
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		// LLM凭证缺省时复用OpenAI凭证
		viper.Set("llm.api_key", key)
	}
	if url := os.Getenv("LLM_BASE_URL"); url != "" {
		viper.Set("llm.base_url", url)
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		viper.Set("llm.model", model)
	}
	if addr := os.Getenv("MILVUS_ADDRESS"); addr != "" {
		viper.Set("vector_store.milvus.address", addr)
		viper.Set("vector_store.provider", "milvus")
	}
	if user := os.Getenv("MILVUS_USERNAME"); user != "" {
		viper.Set("vector_store.milvus.username", user)
	}
	if pass := os.Getenv("MILVUS_PASSWORD"); pass != "" {
		viper.Set("vector_store.milvus.password", pass)
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		viper.Set("cache.redis.host", host)
		viper.Set("cache.provider", "redis")
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		viper.Set("cache.redis.port", port)
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		viper.Set("cache.redis.password", pass)
	}
	if ttl := os.Getenv("CACHE_TTL"); ttl != "" {
		viper.Set("cache.ttl_seconds", ttl)
	}
	if size := os.Getenv("CHUNK_SIZE"); size != "" {
		viper.Set("pipeline.chunk_size", size)
	}
	if overlap := os.Getenv("CHUNK_OVERLAP"); overlap != "" {
		viper.Set("pipeline.chunk_overlap", overlap)
	}
	if topK := os.Getenv("TOP_K"); topK != "" {
		viper.Set("pipeline.top_k", topK)
	}
	if limit := os.Getenv("MAX_CONCURRENCY"); limit != "" {
		viper.Set("pipeline.max_concurrency", limit)
	}
	if timeout := os.Getenv("STAGE_TIMEOUT"); timeout != "" {
		viper.Set("pipeline.stage_timeout_seconds", timeout)
	}
	if timeout := os.Getenv("REQUEST_TIMEOUT"); timeout != "" {
		viper.Set("pipeline.request_timeout_seconds", timeout)
	}
	if url := os.Getenv("WEBHOOK_URL"); url != "" {
		viper.Set("webhook.url", url)
	}

	cfg := &Config{
		Server: ServerConfig{
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Embedding: EmbeddingConfig{
			APIKey:  viper.GetString("embedding.api_key"),
			BaseURL: viper.GetString("embedding.base_url"),
			Model:   viper.GetString("embedding.model"),
		},
		LLM: LLMConfig{
			APIKey:      viper.GetString("llm.api_key"),
			BaseURL:     viper.GetString("llm.base_url"),
			Model:       viper.GetString("llm.model"),
			MaxTokens:   viper.GetInt("llm.max_tokens"),
			Temperature: viper.GetFloat64("llm.temperature"),
		},
		VectorStore: VectorStoreConfig{
			Provider: viper.GetString("vector_store.provider"),
			Milvus: MilvusConfig{
				Address:          viper.GetString("vector_store.milvus.address"),
				Username:         viper.GetString("vector_store.milvus.username"),
				Password:         viper.GetString("vector_store.milvus.password"),
				Database:         viper.GetString("vector_store.milvus.database"),
				CollectionPrefix: viper.GetString("vector_store.milvus.collection_prefix"),
				VectorSize:       viper.GetInt("vector_store.milvus.vector_size"),
				TLS:              viper.GetBool("vector_store.milvus.tls"),
			},
		},
		Cache: CacheConfig{
			Provider: viper.GetString("cache.provider"),
			Redis: RedisConfig{
				Host:     viper.GetString("cache.redis.host"),
				Port:     viper.GetString("cache.redis.port"),
				Password: viper.GetString("cache.redis.password"),
				DB:       viper.GetInt("cache.redis.db"),
			},
			TTLSeconds: viper.GetInt("cache.ttl_seconds"),
		},
		Pipeline: PipelineConfig{
			ChunkSize:             viper.GetInt("pipeline.chunk_size"),
			ChunkOverlap:          viper.GetInt("pipeline.chunk_overlap"),
			TopK:                  viper.GetInt("pipeline.top_k"),
			MaxConcurrency:        viper.GetInt("pipeline.max_concurrency"),
			StageTimeoutSeconds:   viper.GetInt("pipeline.stage_timeout_seconds"),
			RequestTimeoutSeconds: viper.GetInt("pipeline.request_timeout_seconds"),
			RetryMaxAttempts:      viper.GetInt("pipeline.retry_max_attempts"),
			RetryBaseDelayMS:      viper.GetInt("pipeline.retry_base_delay_ms"),
		},
		Webhook: WebhookConfig{
			URL:            viper.GetString("webhook.url"),
			TimeoutSeconds: viper.GetInt("webhook.timeout_seconds"),
		},
	}

	AppConfig = cfg
	return nil
}

// Validate 校验配置，缺少必需凭证时返回启动级错误
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Pipeline.ChunkOverlap >= c.Pipeline.ChunkSize {
		return fmt.Errorf("invalid configuration: chunk_overlap must be smaller than chunk_size")
	}
	return nil
}

// GetAppConfig 获取全局配置
func GetAppConfig() *Config {
	if AppConfig == nil {
		_ = LoadConfig()
	}
	return AppConfig
}

// CacheTTL 缓存过期时长
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// StageTimeout 单阶段超时时长
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Pipeline.StageTimeoutSeconds) * time.Second
}

// RequestTimeout 整体请求超时时长
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Pipeline.RequestTimeoutSeconds) * time.Second
}

// RetryBaseDelay 重试基础延迟
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Pipeline.RetryBaseDelayMS) * time.Millisecond
}
