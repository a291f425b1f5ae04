package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRecords() []VectorRecord {
	return []VectorRecord{
		{Fingerprint: "fp-a", Embedding: []float32{1, 0, 0}, Text: "clause a", ChunkIndex: 0, StartPage: 1, EndPage: 1},
		{Fingerprint: "fp-b", Embedding: []float32{0, 1, 0}, Text: "clause b", ChunkIndex: 1, StartPage: 2, EndPage: 2},
		{Fingerprint: "fp-c", Embedding: []float32{0.9, 0.1, 0}, Text: "clause c", ChunkIndex: 2, StartPage: 3, EndPage: 3},
	}
}

func TestMemoryStoreQueryRanking(t *testing.T) {
	store := NewMemoryVectorStore()
	ctx := context.Background()

	_, err := store.Upsert(ctx, "ns1", seedRecords())
	require.NoError(t, err)

	matches, err := store.Query(ctx, "ns1", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// 与查询向量最接近的在前
	assert.Equal(t, "fp-a", matches[0].Record.Fingerprint)
	assert.Equal(t, "fp-c", matches[1].Record.Fingerprint)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestMemoryStoreUpsertIdempotent(t *testing.T) {
	store := NewMemoryVectorStore()
	ctx := context.Background()

	_, err := store.Upsert(ctx, "ns1", seedRecords())
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "ns1", seedRecords())
	require.NoError(t, err)

	count, err := store.Count(ctx, "ns1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestMemoryStoreNamespaceIsolation(t *testing.T) {
	store := NewMemoryVectorStore()
	ctx := context.Background()

	_, err := store.Upsert(ctx, "ns1", seedRecords())
	require.NoError(t, err)

	matches, err := store.Query(ctx, "ns2", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	count, err := store.Count(ctx, "ns2")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryStoreTopKClamp(t *testing.T) {
	store := NewMemoryVectorStore()
	ctx := context.Background()

	_, err := store.Upsert(ctx, "ns1", seedRecords())
	require.NoError(t, err)

	matches, err := store.Query(ctx, "ns1", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestMemoryStoreTieBreakByChunkIndex(t *testing.T) {
	store := NewMemoryVectorStore()
	ctx := context.Background()

	// 两条记录向量相同，得分并列时按chunk位置升序
	records := []VectorRecord{
		{Fingerprint: "fp-late", Embedding: []float32{1, 0}, Text: "later clause", ChunkIndex: 7},
		{Fingerprint: "fp-early", Embedding: []float32{1, 0}, Text: "earlier clause", ChunkIndex: 2},
	}
	_, err := store.Upsert(ctx, "ns1", records)
	require.NoError(t, err)

	matches, err := store.Query(ctx, "ns1", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "fp-early", matches[0].Record.Fingerprint)
	assert.Equal(t, "fp-late", matches[1].Record.Fingerprint)
}

func TestMemoryStoreClear(t *testing.T) {
	store := NewMemoryVectorStore()
	ctx := context.Background()

	_, err := store.Upsert(ctx, "ns1", seedRecords())
	require.NoError(t, err)
	_, err = store.Upsert(ctx, "ns2", seedRecords())
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, "ns1"))
	count, err := store.Count(ctx, "ns1")
	require.NoError(t, err)
	assert.Zero(t, count)

	total, err := store.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	require.NoError(t, store.ClearAll(ctx))
	total, err = store.Count(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, total)
}
