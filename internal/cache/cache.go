package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aihub/policyqa-go/internal/knowledge"
)

// Cache 缓存抽象：尽力而为，任何失败都按未命中处理
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
	Stats() Stats
}

// Stats 缓存命中统计
type Stats struct {
	Hits   int64
	Misses int64
}

// HitRate 命中率
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// DocumentKey 文档级缓存键：规范URL的指纹
func DocumentKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// ChunkSetKey 分块集缓存键：文档键 + 分块参数
func ChunkSetKey(documentKey string, chunkSize, overlap int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|chunks|%d|%d", documentKey, chunkSize, overlap)))
	return hex.EncodeToString(sum[:])
}

// AnswerKey 答案缓存键：文档键 + 归一化问题文本
func AnswerKey(documentKey, question string) string {
	sum := sha256.Sum256([]byte(documentKey + "|answer|" + knowledge.NormalizeText(question)))
	return hex.EncodeToString(sum[:])
}
