package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/aihub/policyqa-go/internal/errors"
	"github.com/aihub/policyqa-go/internal/logger"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address          string
	Username         string
	Password         string
	Database         string
	CollectionPrefix string
	VectorSize       int
	UseTLS           bool
	Timeout          time.Duration
}

type milvusVectorStore struct {
	milvusClient     client.Client
	collectionPrefix string
	vectorSize       int
}

// NewMilvusVectorStore 创建Milvus向量存储
func NewMilvusVectorStore(opts MilvusOptions) (VectorStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.CollectionPrefix == "" {
		opts.CollectionPrefix = "policy_chunks"
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = 1536
	}
	if opts.Database == "" {
		opts.Database = "default"
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	milvusClient, err := client.NewClient(ctx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, apperrors.NewIndexUnavailableError(fmt.Errorf("failed to create milvus client: %w", err))
	}

	return &milvusVectorStore{
		milvusClient:     milvusClient,
		collectionPrefix: opts.CollectionPrefix,
		vectorSize:       opts.VectorSize,
	}, nil
}

func (s *milvusVectorStore) collectionName(namespace string) string {
	return fmt.Sprintf("%s_%s", s.collectionPrefix, namespace)
}

func (s *milvusVectorStore) ensureCollection(ctx context.Context, namespace string) error {
	name := s.collectionName(namespace)

	hasCollection, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return apperrors.NewIndexUnavailableError(fmt.Errorf("failed to check collection: %w", err))
	}
	if hasCollection {
		return nil
	}

	// 指纹作为varchar主键，保证同内容重复写入幂等
	schema := &entity.Schema{
		CollectionName: name,
		Description:    fmt.Sprintf("Chunk vectors for namespace %s", namespace),
		Fields: []*entity.Field{
			{
				Name:       "fingerprint",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "start_page",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "end_page",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       "content",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "65535"},
			},
			{
				Name:       "vector",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(s.vectorSize)},
			},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return apperrors.NewIndexUnavailableError(fmt.Errorf("failed to create collection: %w", err))
	}

	var index entity.Index
	index, err = entity.NewIndexHNSW(entity.COSINE, 8, 64)
	if err != nil {
		index, err = entity.NewIndexIvfFlat(entity.COSINE, 128)
		if err != nil {
			return apperrors.NewIndexUnavailableError(fmt.Errorf("failed to create index: %w", err))
		}
	}
	if err := s.milvusClient.CreateIndex(ctx, name, "vector", index, false); err != nil {
		// 索引创建失败不影响写入
		logger.Warn("failed to create milvus index", zap.String("collection", name), zap.Error(err))
	}

	return nil
}

func (s *milvusVectorStore) Upsert(ctx context.Context, namespace string, records []VectorRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	// 维度不匹配说明向量化配置与索引不一致，拒绝写入而不是静默对齐
	for _, rec := range records {
		if len(rec.Embedding) > 0 && len(rec.Embedding) != s.vectorSize {
			return 0, apperrors.NewInvalidInputError("embedding",
				fmt.Sprintf("dimension %d does not match index dimension %d", len(rec.Embedding), s.vectorSize))
		}
	}

	if err := s.ensureCollection(ctx, namespace); err != nil {
		return 0, err
	}

	name := s.collectionName(namespace)

	fingerprints := make([]string, 0, len(records))
	chunkIndexes := make([]int64, 0, len(records))
	startPages := make([]int64, 0, len(records))
	endPages := make([]int64, 0, len(records))
	contents := make([]string, 0, len(records))
	vectors := make([][]float32, 0, len(records))

	for _, rec := range records {
		if rec.Fingerprint == "" || len(rec.Embedding) == 0 {
			continue
		}
		fingerprints = append(fingerprints, rec.Fingerprint)
		chunkIndexes = append(chunkIndexes, int64(rec.ChunkIndex))
		startPages = append(startPages, int64(rec.StartPage))
		endPages = append(endPages, int64(rec.EndPage))
		contents = append(contents, rec.Text)
		vectors = append(vectors, rec.Embedding)
	}
	if len(fingerprints) == 0 {
		return 0, nil
	}

	_, err := s.milvusClient.Upsert(ctx, name, "",
		entity.NewColumnVarChar("fingerprint", fingerprints),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
		entity.NewColumnInt64("start_page", startPages),
		entity.NewColumnInt64("end_page", endPages),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnFloatVector("vector", s.vectorSize, vectors),
	)
	if err != nil {
		return 0, apperrors.NewIndexUnavailableError(fmt.Errorf("milvus upsert failed: %w", err))
	}

	if err := s.milvusClient.Flush(ctx, name, false); err != nil {
		logger.Warn("failed to flush milvus collection", zap.String("collection", name), zap.Error(err))
	}

	return len(fingerprints), nil
}

func (s *milvusVectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]SearchMatch, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	if len(vector) != s.vectorSize {
		return nil, apperrors.NewInvalidInputError("query vector",
			fmt.Sprintf("dimension %d does not match index dimension %d", len(vector), s.vectorSize))
	}
	if topK <= 0 {
		topK = 5
	}

	name := s.collectionName(namespace)
	hasCollection, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return nil, apperrors.NewIndexUnavailableError(fmt.Errorf("failed to check collection: %w", err))
	}
	if !hasCollection {
		return []SearchMatch{}, nil
	}

	if err := s.milvusClient.LoadCollection(ctx, name, false); err != nil {
		return nil, apperrors.NewIndexUnavailableError(fmt.Errorf("failed to load collection: %w", err))
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	searchResults, err := s.milvusClient.Search(
		ctx,
		name,
		[]string{},
		"",
		[]string{"fingerprint", "chunk_index", "start_page", "end_page", "content"},
		[]entity.Vector{entity.FloatVector(vector)},
		"vector",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, apperrors.NewIndexUnavailableError(fmt.Errorf("milvus search failed: %w", err))
	}
	if len(searchResults) == 0 {
		return []SearchMatch{}, nil
	}
	result := searchResults[0]
	if result.Err != nil {
		return nil, apperrors.NewIndexUnavailableError(fmt.Errorf("milvus search error: %w", result.Err))
	}
	if result.ResultCount == 0 {
		return []SearchMatch{}, nil
	}

	var fingerprints, contents []string
	var chunkIndexes, startPages, endPages []int64
	for _, field := range result.Fields {
		switch field.Name() {
		case "fingerprint":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				fingerprints = col.Data()
			}
		case "chunk_index":
			if col, ok := field.(*entity.ColumnInt64); ok {
				chunkIndexes = col.Data()
			}
		case "start_page":
			if col, ok := field.(*entity.ColumnInt64); ok {
				startPages = col.Data()
			}
		case "end_page":
			if col, ok := field.(*entity.ColumnInt64); ok {
				endPages = col.Data()
			}
		case "content":
			if col, ok := field.(*entity.ColumnVarChar); ok {
				contents = col.Data()
			}
		}
	}

	matches := make([]SearchMatch, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		rec := VectorRecord{}
		if i < len(fingerprints) {
			rec.Fingerprint = fingerprints[i]
		}
		if i < len(chunkIndexes) {
			rec.ChunkIndex = int(chunkIndexes[i])
		}
		if i < len(startPages) {
			rec.StartPage = int(startPages[i])
		}
		if i < len(endPages) {
			rec.EndPage = int(endPages[i])
		}
		if i < len(contents) {
			rec.Text = contents[i]
		}
		score := float64(0)
		if i < len(result.Scores) {
			score = float64(result.Scores[i])
		}
		matches = append(matches, SearchMatch{Record: rec, Score: score})
	}

	return matches, nil
}

func (s *milvusVectorStore) Clear(ctx context.Context, namespace string) error {
	name := s.collectionName(namespace)
	hasCollection, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return apperrors.NewIndexUnavailableError(fmt.Errorf("failed to check collection: %w", err))
	}
	if !hasCollection {
		return nil
	}
	if err := s.milvusClient.DropCollection(ctx, name); err != nil {
		return apperrors.NewIndexUnavailableError(fmt.Errorf("failed to drop collection: %w", err))
	}
	return nil
}

func (s *milvusVectorStore) ClearAll(ctx context.Context) error {
	names, err := s.listCollections(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.milvusClient.DropCollection(ctx, name); err != nil {
			return apperrors.NewIndexUnavailableError(fmt.Errorf("failed to drop collection %s: %w", name, err))
		}
	}
	return nil
}

func (s *milvusVectorStore) Count(ctx context.Context, namespace string) (int64, error) {
	var names []string
	if namespace != "" {
		names = []string{s.collectionName(namespace)}
	} else {
		listed, err := s.listCollections(ctx)
		if err != nil {
			return 0, err
		}
		names = listed
	}

	var total int64
	for _, name := range names {
		hasCollection, err := s.milvusClient.HasCollection(ctx, name)
		if err != nil {
			return 0, apperrors.NewIndexUnavailableError(fmt.Errorf("failed to check collection: %w", err))
		}
		if !hasCollection {
			continue
		}
		stats, err := s.milvusClient.GetCollectionStatistics(ctx, name)
		if err != nil {
			return 0, apperrors.NewIndexUnavailableError(fmt.Errorf("failed to read collection stats: %w", err))
		}
		if raw, ok := stats["row_count"]; ok {
			if count, err := strconv.ParseInt(raw, 10, 64); err == nil {
				total += count
			}
		}
	}
	return total, nil
}

// listCollections 列出本前缀下的所有集合
func (s *milvusVectorStore) listCollections(ctx context.Context) ([]string, error) {
	collections, err := s.milvusClient.ListCollections(ctx)
	if err != nil {
		return nil, apperrors.NewIndexUnavailableError(fmt.Errorf("failed to list collections: %w", err))
	}
	var names []string
	for _, coll := range collections {
		if strings.HasPrefix(coll.Name, s.collectionPrefix+"_") {
			names = append(names, coll.Name)
		}
	}
	return names, nil
}

func (s *milvusVectorStore) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}
