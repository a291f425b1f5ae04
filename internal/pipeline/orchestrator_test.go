package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aihub/policyqa-go/internal/cache"
	"github.com/aihub/policyqa-go/internal/document"
	"github.com/aihub/policyqa-go/internal/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLoader 返回固定片段并统计调用次数
type fakeLoader struct {
	calls int64
	delay time.Duration
	err   error
}

func (l *fakeLoader) Load(ctx context.Context, url string) ([]document.Segment, error) {
	atomic.AddInt64(&l.calls, 1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.err != nil {
		return nil, l.err
	}
	return []document.Segment{
		{Text: "The grace period for premium payment is thirty days. Knee surgery is covered after 24 months.", Page: 1},
		{Text: "Pre-existing diseases are excluded for the first 36 months of coverage.", Page: 2},
	}, nil
}

// fakeEmbedder 由文本哈希生成确定性向量
type fakeEmbedder struct {
	calls int64
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt64(&e.calls, 1)
	h := fnv.New64a()
	h.Write([]byte(knowledge.NormalizeText(text)))
	sum := h.Sum64()
	vector := make([]float32, 4)
	for i := range vector {
		vector[i] = float32((sum>>(i*8))&0xff) / 255.0
	}
	return vector, nil
}

func (e *fakeEmbedder) Dimensions() int { return 4 }
func (e *fakeEmbedder) Ready() bool     { return true }

// fakeSynthesizer 回显问题文本并统计调用次数
type fakeSynthesizer struct {
	calls   int64
	failFor string
	failAll bool
}

func (s *fakeSynthesizer) Synthesize(ctx context.Context, question string, chunks []knowledge.RetrievedChunk) (*knowledge.Answer, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.failAll || (s.failFor != "" && question == s.failFor) {
		return nil, errors.New("model refused to answer")
	}
	return &knowledge.Answer{
		Question:      question,
		Decision:      "answered",
		Justification: "answer to: " + question,
	}, nil
}

// missCache 模拟被禁用的缓存后端：读永远未命中，写被丢弃
type missCache struct {
	misses int64
}

func (c *missCache) Get(ctx context.Context, key string) (string, bool) {
	atomic.AddInt64(&c.misses, 1)
	return "", false
}

func (c *missCache) Set(ctx context.Context, key, value string, ttl time.Duration) {}

func (c *missCache) Invalidate(ctx context.Context, key string) {}

func (c *missCache) Stats() cache.Stats {
	return cache.Stats{Misses: atomic.LoadInt64(&c.misses)}
}

func testOrchestratorWithCache(loader *fakeLoader, synth *fakeSynthesizer, cacheStore cache.Cache) (*Orchestrator, knowledge.VectorStore) {
	store := knowledge.NewMemoryVectorStore()
	orchestrator := NewOrchestrator(
		loader,
		&fakeEmbedder{},
		store,
		synth,
		cacheStore,
		NewWebhookNotifier("", 0),
		Options{
			ChunkSize:      60,
			ChunkOverlap:   10,
			TopK:           3,
			MaxConcurrency: 4,
			CacheTTL:       time.Minute,
			Retry:          RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		},
	)
	return orchestrator, store
}

func testOrchestrator(loader *fakeLoader, synth *fakeSynthesizer) (*Orchestrator, knowledge.VectorStore) {
	return testOrchestratorWithCache(loader, synth, cache.NewMemoryCache())
}

func TestRunAnswersAlignWithQuestionOrder(t *testing.T) {
	orchestrator, _ := testOrchestrator(&fakeLoader{}, &fakeSynthesizer{})

	questions := []string{
		"What is the grace period?",
		"Is knee surgery covered?",
		"Are pre-existing diseases excluded?",
		"What is the waiting period?",
		"Does the policy cover maternity?",
	}
	answers, err := orchestrator.Run(context.Background(), "https://example.com/policy.pdf", questions)
	require.NoError(t, err)
	require.Len(t, answers, len(questions))

	// 并发执行后结果仍须与输入问题一一对应
	for i, question := range questions {
		assert.Equal(t, "answer to: "+question, answers[i])
	}
}

func TestRunCachesAnswers(t *testing.T) {
	synth := &fakeSynthesizer{}
	orchestrator, _ := testOrchestrator(&fakeLoader{}, synth)
	ctx := context.Background()

	questions := []string{"What is the grace period?"}
	_, err := orchestrator.Run(ctx, "https://example.com/policy.pdf", questions)
	require.NoError(t, err)
	require.Equal(t, int64(1), atomic.LoadInt64(&synth.calls))

	// 第二次相同问题应命中缓存，不再调用模型
	answers, err := orchestrator.Run(ctx, "https://example.com/policy.pdf", questions)
	require.NoError(t, err)
	assert.Equal(t, "answer to: What is the grace period?", answers[0])
	assert.Equal(t, int64(1), atomic.LoadInt64(&synth.calls))

	// 大小写与空白差异视为同一问题
	_, err = orchestrator.Run(ctx, "https://example.com/policy.pdf", []string{"  what IS the grace period?  "})
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&synth.calls))
}

func TestRunIngestsDocumentOnce(t *testing.T) {
	loader := &fakeLoader{}
	orchestrator, _ := testOrchestrator(loader, &fakeSynthesizer{})
	ctx := context.Background()

	_, err := orchestrator.Run(ctx, "https://example.com/policy.pdf", []string{"q1"})
	require.NoError(t, err)
	_, err = orchestrator.Run(ctx, "https://example.com/policy.pdf", []string{"q2"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&loader.calls), "second request must reuse the index")
}

func TestRunCoalescesConcurrentIngestion(t *testing.T) {
	loader := &fakeLoader{delay: 30 * time.Millisecond}
	orchestrator, _ := testOrchestrator(loader, &fakeSynthesizer{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := orchestrator.Run(context.Background(),
				"https://example.com/policy.pdf",
				[]string{fmt.Sprintf("question %d", n)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&loader.calls), "concurrent requests must share one ingestion")
}

func TestRunUnaffectedByCacheBackendLoss(t *testing.T) {
	questions := []string{
		"What is the grace period?",
		"Is knee surgery covered?",
		"Are pre-existing diseases excluded?",
	}
	docURL := "https://example.com/policy.pdf"

	cached, _ := testOrchestrator(&fakeLoader{}, &fakeSynthesizer{})
	expected, err := cached.Run(context.Background(), docURL, questions)
	require.NoError(t, err)

	// 缓存后端失效只能降级为全部未命中，答案内容必须不变
	degradedLoader := &fakeLoader{}
	degradedSynth := &fakeSynthesizer{}
	degraded, _ := testOrchestratorWithCache(degradedLoader, degradedSynth, &missCache{})

	answers, err := degraded.Run(context.Background(), docURL, questions)
	require.NoError(t, err)
	assert.Equal(t, expected, answers)

	// 无缓存时重复请求重新计算，结果仍然一致
	again, err := degraded.Run(context.Background(), docURL, questions)
	require.NoError(t, err)
	assert.Equal(t, expected, again)
	assert.Equal(t, int64(2*len(questions)), atomic.LoadInt64(&degradedSynth.calls))
}

func TestRunQuestionFailureDoesNotAbortBatch(t *testing.T) {
	synth := &fakeSynthesizer{failFor: "Is dental covered?"}
	orchestrator, _ := testOrchestrator(&fakeLoader{}, synth)

	questions := []string{
		"What is the grace period?",
		"Is dental covered?",
		"Are pre-existing diseases excluded?",
	}
	answers, err := orchestrator.Run(context.Background(), "https://example.com/policy.pdf", questions)
	require.NoError(t, err)
	require.Len(t, answers, 3)

	assert.Equal(t, "answer to: What is the grace period?", answers[0])
	assert.Contains(t, answers[1], "could not be answered")
	assert.Equal(t, "answer to: Are pre-existing diseases excluded?", answers[2])
}

func TestRunEmptyQuestionGetsPlaceholder(t *testing.T) {
	orchestrator, _ := testOrchestrator(&fakeLoader{}, &fakeSynthesizer{})

	answers, err := orchestrator.Run(context.Background(), "https://example.com/policy.pdf", []string{"valid?", "   "})
	require.NoError(t, err)
	assert.Equal(t, "The question is empty.", answers[1])
}

func TestRunRejectsInvalidInput(t *testing.T) {
	orchestrator, _ := testOrchestrator(&fakeLoader{}, &fakeSynthesizer{})
	ctx := context.Background()

	_, err := orchestrator.Run(ctx, "", []string{"q"})
	require.Error(t, err)

	_, err = orchestrator.Run(ctx, "https://example.com/policy.pdf", nil)
	require.Error(t, err)
}

func TestRunPropagatesIngestionFailure(t *testing.T) {
	loader := &fakeLoader{err: errors.New("connection refused")}
	orchestrator, _ := testOrchestrator(loader, &fakeSynthesizer{})

	_, err := orchestrator.Run(context.Background(), "https://example.com/policy.pdf", []string{"q"})
	require.Error(t, err)
}

func TestIngestionSurvivesWinnerCancellation(t *testing.T) {
	loader := &fakeLoader{}
	orchestrator, store := testOrchestrator(loader, &fakeSynthesizer{})

	docURL := "https://example.com/policy.pdf"
	docKey := cache.DocumentKey(docURL)
	namespace := knowledge.Namespace(docKey)

	// 发起合并入库的请求被取消时，共享这次入库的其他请求不应受牵连
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, orchestrator.ensureIngested(ctx, docURL, docKey, namespace))

	count, err := store.Count(context.Background(), namespace)
	require.NoError(t, err)
	assert.Positive(t, count)
	assert.Equal(t, int64(1), atomic.LoadInt64(&loader.calls))
}

func TestOrchestratorBreakersAreIsolated(t *testing.T) {
	failing, _ := testOrchestrator(&fakeLoader{}, &fakeSynthesizer{failAll: true})

	questions := []string{"q1", "q2", "q3", "q4", "q5"}
	answers, err := failing.Run(context.Background(), "https://example.com/policy.pdf", questions)
	require.NoError(t, err)
	for _, answer := range answers {
		assert.Contains(t, answer, "could not be answered")
	}
	assert.Equal(t, StateOpen, failing.llmBreaker.State())

	// 熔断状态不跨编排器实例传播
	healthy, _ := testOrchestrator(&fakeLoader{}, &fakeSynthesizer{})
	assert.Equal(t, StateClosed, healthy.llmBreaker.State())
	fresh, err := healthy.Run(context.Background(), "https://example.com/policy.pdf", []string{"q1"})
	require.NoError(t, err)
	assert.Equal(t, "answer to: q1", fresh[0])
}

func TestClearAndStats(t *testing.T) {
	orchestrator, store := testOrchestrator(&fakeLoader{}, &fakeSynthesizer{})
	ctx := context.Background()

	_, err := orchestrator.Run(ctx, "https://example.com/policy.pdf", []string{"q"})
	require.NoError(t, err)

	stats := orchestrator.Stats(ctx)
	assert.Positive(t, stats.IndexedChunkCount)
	assert.Positive(t, stats.TotalRequests)

	require.NoError(t, orchestrator.Clear(ctx, "https://example.com/policy.pdf"))
	docKey := cache.DocumentKey("https://example.com/policy.pdf")
	count, err := store.Count(ctx, knowledge.Namespace(docKey))
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, orchestrator.Clear(ctx, ""))
	total, err := store.Count(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, total)
}
