package knowledge

import "context"

// VectorRecord 向量记录：指纹主键 + 向量 + chunk元数据副本
type VectorRecord struct {
	Fingerprint string
	Embedding   []float32
	Text        string
	ChunkIndex  int
	StartPage   int
	EndPage     int
}

// SearchMatch 检索命中结果
type SearchMatch struct {
	Record VectorRecord
	Score  float64
}

// VectorStore 向量存储抽象，namespace按文档隔离
type VectorStore interface {
	// Upsert 按指纹幂等写入，返回写入条数
	Upsert(ctx context.Context, namespace string, records []VectorRecord) (int, error)
	// Query 返回按相似度降序的前topK条，不足topK时返回全部
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]SearchMatch, error)
	// Clear 清空单个namespace
	Clear(ctx context.Context, namespace string) error
	// ClearAll 清空全部namespace
	ClearAll(ctx context.Context) error
	// Count 统计namespace内记录数，namespace为空时统计全部
	Count(ctx context.Context, namespace string) (int64, error)
	Ready() bool
}

// Namespace 由文档键派生索引分区名，保证文档间检索隔离
func Namespace(documentKey string) string {
	if len(documentKey) > 16 {
		documentKey = documentKey[:16]
	}
	return "doc_" + documentKey
}
