package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aihub/policyqa-go/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache Redis缓存实现，任何Redis故障都降级为未命中
type RedisCache struct {
	client *redis.Client
	hits   int64
	misses int64
}

// RedisOptions Redis连接配置
type RedisOptions struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NewRedisCache 创建Redis缓存并测试连接
func NewRedisCache(opts RedisOptions) (*RedisCache, error) {
	if opts.Port == "" {
		opts.Port = "6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			// 缓存故障不是正确性问题，记日志后按未命中处理
			logger.Warn("redis get failed, treating as miss", zap.Error(err))
		}
		atomic.AddInt64(&c.misses, 1)
		return "", false
	}
	atomic.AddInt64(&c.hits, 1)
	return value, true
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		logger.Warn("redis set failed", zap.Error(err))
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		logger.Warn("redis del failed", zap.Error(err))
	}
}

func (c *RedisCache) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}

// Close 关闭底层连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}
