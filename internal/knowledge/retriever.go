package knowledge

import (
	"context"
	"sort"
)

// RetrievedChunk 检索结果中的单个chunk
type RetrievedChunk struct {
	Text        string
	Score       float64
	ChunkIndex  int
	StartPage   int
	EndPage     int
	Fingerprint string
}

// Retriever 检索引擎：问题与chunk使用同一向量化器，保证向量空间对称
type Retriever struct {
	embedder Embedder
	store    VectorStore
	topK     int
}

// NewRetriever 创建检索引擎
func NewRetriever(embedder Embedder, store VectorStore, topK int) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		topK:     topK,
	}
}

// Retrieve 返回namespace内与问题最相似的前topK个chunk
func (r *Retriever) Retrieve(ctx context.Context, question, namespace string, topK int) ([]RetrievedChunk, error) {
	if topK <= 0 {
		topK = r.topK
	}

	vector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	matches, err := r.store.Query(ctx, namespace, vector, topK)
	if err != nil {
		return nil, err
	}

	// 降序 + 同分按chunk位置升序，与存储层约定一致
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Record.ChunkIndex < matches[j].Record.ChunkIndex
	})

	chunks := make([]RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		chunks = append(chunks, RetrievedChunk{
			Text:        m.Record.Text,
			Score:       m.Score,
			ChunkIndex:  m.Record.ChunkIndex,
			StartPage:   m.Record.StartPage,
			EndPage:     m.Record.EndPage,
			Fingerprint: m.Record.Fingerprint,
		})
	}
	return chunks, nil
}
