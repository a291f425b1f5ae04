package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aihub/policyqa-go/internal/cache"
	"github.com/aihub/policyqa-go/internal/document"
	apperrors "github.com/aihub/policyqa-go/internal/errors"
	"github.com/aihub/policyqa-go/internal/knowledge"
	"github.com/aihub/policyqa-go/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DocumentLoader 文档加载抽象：URL → 文本片段
type DocumentLoader interface {
	Load(ctx context.Context, url string) ([]document.Segment, error)
}

// AnswerSynthesizer 答案生成抽象
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, question string, chunks []knowledge.RetrievedChunk) (*knowledge.Answer, error)
}

// Options 管道运行参数
type Options struct {
	ChunkSize      int
	ChunkOverlap   int
	TopK           int
	MaxConcurrency int
	CacheTTL       time.Duration
	StageTimeout   time.Duration
	RequestTimeout time.Duration
	Retry          RetryPolicy
}

// normalize 填充零值参数
func (o Options) normalize() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1000
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = 0
	}
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 10
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = time.Hour
	}
	if o.StageTimeout <= 0 {
		o.StageTimeout = 30 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 120 * time.Second
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = DefaultRetryPolicy()
	}
	return o
}

// Orchestrator 问答管道编排器：入库、检索、生成全流程
type Orchestrator struct {
	loader      DocumentLoader
	chunker     *knowledge.Chunker
	embedder    knowledge.Embedder
	store       knowledge.VectorStore
	retriever   *knowledge.Retriever
	synthesizer AnswerSynthesizer
	cache       cache.Cache
	notifier    *WebhookNotifier
	monitor     *PerformanceMonitor
	opts        Options

	// 熔断器随编排器实例走，互不影响
	embedBreaker *CircuitBreaker
	indexBreaker *CircuitBreaker
	llmBreaker   *CircuitBreaker

	// 同一文档的并发入库合并为一次
	ingestGroup singleflight.Group
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	loader DocumentLoader,
	embedder knowledge.Embedder,
	store knowledge.VectorStore,
	synthesizer AnswerSynthesizer,
	cacheStore cache.Cache,
	notifier *WebhookNotifier,
	opts Options,
) *Orchestrator {
	opts = opts.normalize()
	return &Orchestrator{
		loader:       loader,
		chunker:      knowledge.NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		embedder:     embedder,
		store:        store,
		retriever:    knowledge.NewRetriever(embedder, store, opts.TopK),
		synthesizer:  synthesizer,
		cache:        cacheStore,
		notifier:     notifier,
		monitor:      NewPerformanceMonitor(1000),
		opts:         opts,
		embedBreaker: NewDefaultCircuitBreaker("embedding"),
		indexBreaker: NewDefaultCircuitBreaker("vector_store"),
		llmBreaker:   NewDefaultCircuitBreaker("llm"),
	}
}

// Run 处理一批针对同一文档的问题，返回与输入同序的答案文本
func (o *Orchestrator) Run(ctx context.Context, documentURL string, questions []string) ([]string, error) {
	if strings.TrimSpace(documentURL) == "" {
		return nil, apperrors.NewInvalidInputError("document_url", "empty")
	}
	if len(questions) == 0 {
		return nil, apperrors.NewInvalidInputError("questions", "empty")
	}

	started := time.Now()
	requestsTotal.Inc()
	defer func() {
		elapsed := time.Since(started)
		requestDuration.Observe(elapsed.Seconds())
		o.monitor.Record(elapsed)
	}()

	ctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()

	docKey := cache.DocumentKey(documentURL)
	namespace := knowledge.Namespace(docKey)

	if err := o.ensureIngested(ctx, documentURL, docKey, namespace); err != nil {
		return nil, err
	}

	answers := make([]string, len(questions))
	sem := make(chan struct{}, o.opts.MaxConcurrency)
	done := make(chan int, len(questions))

	for i, question := range questions {
		go func(idx int, q string) {
			defer func() { done <- idx }()
			sem <- struct{}{}
			defer func() { <-sem }()
			answers[idx] = o.answer(ctx, docKey, namespace, q)
		}(i, question)
	}
	for range questions {
		<-done
	}

	logger.Info("question batch completed",
		zap.String("document_key", docKey[:16]),
		zap.Int("questions", len(questions)),
		zap.Duration("elapsed", time.Since(started)))

	o.notifier.Notify(documentURL, answers)
	return answers, nil
}

// ensureIngested 确保文档已入库；同一文档的并发请求只入库一次
func (o *Orchestrator) ensureIngested(ctx context.Context, documentURL, docKey, namespace string) error {
	_, err, _ := o.ingestGroup.Do(docKey, func() (interface{}, error) {
		// 入库结果被合并的所有请求共享，脱离首个请求的取消信号，
		// 避免其临近超时拖垮剩余预算充足的并发请求
		ingestCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.RequestTimeout)
		defer cancel()

		if o.alreadyIngested(ingestCtx, docKey, namespace) {
			ingestionsTotal.WithLabelValues("skipped").Inc()
			return nil, nil
		}
		if err := o.ingest(ingestCtx, documentURL, docKey, namespace); err != nil {
			ingestionsTotal.WithLabelValues("failure").Inc()
			return nil, err
		}
		ingestionsTotal.WithLabelValues("success").Inc()
		return nil, nil
	})
	return err
}

// alreadyIngested 分块集缓存命中且索引非空时跳过入库
func (o *Orchestrator) alreadyIngested(ctx context.Context, docKey, namespace string) bool {
	chunkSetKey := cache.ChunkSetKey(docKey, o.opts.ChunkSize, o.opts.ChunkOverlap)
	if _, ok := o.cache.Get(ctx, chunkSetKey); !ok {
		return false
	}
	count, err := o.store.Count(ctx, namespace)
	if err != nil {
		logger.Warn("index count check failed, re-ingesting",
			zap.String("namespace", namespace), zap.Error(err))
		return false
	}
	return count > 0
}

// ingest 下载、提取、分块、向量化并写入索引
func (o *Orchestrator) ingest(ctx context.Context, documentURL, docKey, namespace string) error {
	logger.Info("ingesting document", zap.String("document_key", docKey[:16]))

	loadCtx, cancel := context.WithTimeout(ctx, o.opts.StageTimeout)
	segments, err := o.loader.Load(loadCtx, documentURL)
	cancel()
	if err != nil {
		return err
	}

	chunks := o.chunker.Split(segments)
	if len(chunks) == 0 {
		return apperrors.NewExtractionError("document produced no chunks", nil)
	}

	records := make([]knowledge.VectorRecord, 0, len(chunks))
	for _, chunk := range chunks {
		var vector []float32
		err := o.opts.Retry.Do(ctx, "embed_chunk", func(ctx context.Context) error {
			return o.embedBreaker.Call(func() error {
				embedCtx, cancel := context.WithTimeout(ctx, o.opts.StageTimeout)
				defer cancel()
				var embedErr error
				vector, embedErr = o.embedder.Embed(embedCtx, chunk.Text)
				return embedErr
			})
		})
		if err != nil {
			return err
		}
		records = append(records, knowledge.VectorRecord{
			Fingerprint: chunk.Fingerprint,
			Embedding:   vector,
			Text:        chunk.Text,
			ChunkIndex:  chunk.Index,
			StartPage:   chunk.StartPage,
			EndPage:     chunk.EndPage,
		})
	}

	err = o.opts.Retry.Do(ctx, "upsert_chunks", func(ctx context.Context) error {
		return o.indexBreaker.Call(func() error {
			upsertCtx, cancel := context.WithTimeout(ctx, o.opts.StageTimeout)
			defer cancel()
			_, upsertErr := o.store.Upsert(upsertCtx, namespace, records)
			return upsertErr
		})
	})
	if err != nil {
		return err
	}

	// 缓存分块指纹清单，下次同参数请求可跳过全流程
	fingerprints := make([]string, len(chunks))
	for i, chunk := range chunks {
		fingerprints[i] = chunk.Fingerprint
	}
	if payload, marshalErr := json.Marshal(fingerprints); marshalErr == nil {
		chunkSetKey := cache.ChunkSetKey(docKey, o.opts.ChunkSize, o.opts.ChunkOverlap)
		o.cache.Set(ctx, chunkSetKey, string(payload), o.opts.CacheTTL)
	}

	logger.Info("document ingested",
		zap.String("document_key", docKey[:16]),
		zap.Int("chunks", len(chunks)))
	return nil
}

// answer 处理单个问题；任何失败都降级为解释性占位答案，不中断批次
func (o *Orchestrator) answer(ctx context.Context, docKey, namespace, question string) string {
	if strings.TrimSpace(question) == "" {
		questionsTotal.WithLabelValues("invalid").Inc()
		return "The question is empty."
	}

	answerKey := cache.AnswerKey(docKey, question)
	if cached, ok := o.cache.Get(ctx, answerKey); ok {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		questionsTotal.WithLabelValues("cached").Inc()
		return cached
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()

	var chunks []knowledge.RetrievedChunk
	err := o.opts.Retry.Do(ctx, "retrieve", func(ctx context.Context) error {
		retrieveCtx, cancel := context.WithTimeout(ctx, o.opts.StageTimeout)
		defer cancel()
		var retrieveErr error
		chunks, retrieveErr = o.retriever.Retrieve(retrieveCtx, question, namespace, o.opts.TopK)
		return retrieveErr
	})
	if err != nil {
		questionsTotal.WithLabelValues("failure").Inc()
		logger.Error("retrieval failed",
			zap.String("question", question), zap.Error(err))
		return fmt.Sprintf("This question could not be answered: %v", err)
	}

	var answer *knowledge.Answer
	err = o.opts.Retry.Do(ctx, "synthesize", func(ctx context.Context) error {
		return o.llmBreaker.Call(func() error {
			synthCtx, cancel := context.WithTimeout(ctx, o.opts.StageTimeout)
			defer cancel()
			var synthErr error
			answer, synthErr = o.synthesizer.Synthesize(synthCtx, question, chunks)
			return synthErr
		})
	})
	if err != nil {
		questionsTotal.WithLabelValues("failure").Inc()
		logger.Error("synthesis failed",
			zap.String("question", question), zap.Error(err))
		return fmt.Sprintf("This question could not be answered: %v", err)
	}

	text := answer.Text()
	o.cache.Set(ctx, answerKey, text, o.opts.CacheTTL)
	questionsTotal.WithLabelValues("success").Inc()
	return text
}

// Clear 清除指定文档的索引与缓存；documentURL为空时清空全部索引
func (o *Orchestrator) Clear(ctx context.Context, documentURL string) error {
	if strings.TrimSpace(documentURL) == "" {
		logger.Info("clearing all indexed documents")
		return o.store.ClearAll(ctx)
	}

	docKey := cache.DocumentKey(documentURL)
	namespace := knowledge.Namespace(docKey)
	o.cache.Invalidate(ctx, cache.ChunkSetKey(docKey, o.opts.ChunkSize, o.opts.ChunkOverlap))
	logger.Info("clearing document index", zap.String("namespace", namespace))
	return o.store.Clear(ctx, namespace)
}

// PipelineStats 运行统计
type PipelineStats struct {
	IndexedChunkCount     int64   `json:"indexed_chunk_count"`
	TotalRequests         int64   `json:"total_requests"`
	CacheHitRate          float64 `json:"cache_hit_rate"`
	AverageLatencySeconds float64 `json:"average_latency_seconds"`
	UptimeSeconds         float64 `json:"uptime_seconds"`
}

// Stats 汇总索引规模、缓存命中率与平均延迟
func (o *Orchestrator) Stats(ctx context.Context) PipelineStats {
	count, err := o.store.Count(ctx, "")
	if err != nil {
		logger.Warn("index count unavailable", zap.Error(err))
		count = -1
	}
	return PipelineStats{
		IndexedChunkCount:     count,
		TotalRequests:         o.monitor.Total(),
		CacheHitRate:          o.cache.Stats().HitRate(),
		AverageLatencySeconds: o.monitor.Average().Seconds(),
		UptimeSeconds:         o.monitor.Uptime().Seconds(),
	}
}
