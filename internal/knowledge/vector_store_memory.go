package knowledge

import (
	"context"
	"math"
	"sort"
	"sync"
)

// memoryVectorStore 内存向量存储，暴力余弦相似度检索
type memoryVectorStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]VectorRecord
}

// NewMemoryVectorStore 创建内存向量存储
func NewMemoryVectorStore() VectorStore {
	return &memoryVectorStore{
		namespaces: make(map[string]map[string]VectorRecord),
	}
}

func (s *memoryVectorStore) Upsert(ctx context.Context, namespace string, records []VectorRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]VectorRecord, len(records))
		s.namespaces[namespace] = ns
	}
	for _, rec := range records {
		if rec.Fingerprint == "" || len(rec.Embedding) == 0 {
			continue
		}
		// 同指纹重复写入直接覆盖，观察状态不变
		ns[rec.Fingerprint] = rec
	}
	return len(records), nil
}

func (s *memoryVectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]SearchMatch, error) {
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaces[namespace]
	matches := make([]SearchMatch, 0, len(ns))
	for _, rec := range ns {
		matches = append(matches, SearchMatch{
			Record: rec,
			Score:  cosineSimilarity(vector, rec.Embedding),
		})
	}

	// 相似度降序，同分按chunk位置升序保证确定性
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Record.ChunkIndex < matches[j].Record.ChunkIndex
	})

	if topK > len(matches) {
		topK = len(matches)
	}
	return matches[:topK], nil
}

func (s *memoryVectorStore) Clear(ctx context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, namespace)
	return nil
}

func (s *memoryVectorStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaces = make(map[string]map[string]VectorRecord)
	return nil
}

func (s *memoryVectorStore) Count(ctx context.Context, namespace string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if namespace != "" {
		return int64(len(s.namespaces[namespace])), nil
	}
	var total int64
	for _, ns := range s.namespaces {
		total += int64(len(ns))
	}
	return total, nil
}

func (s *memoryVectorStore) Ready() bool {
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
