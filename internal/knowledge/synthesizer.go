package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/aihub/policyqa-go/internal/errors"
	"github.com/aihub/policyqa-go/internal/logger"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ChunkRef 答案引用的chunk来源
type ChunkRef struct {
	ChunkIndex  int
	StartPage   int
	EndPage     int
	Fingerprint string
}

// Answer 结构化答案
type Answer struct {
	Question      string
	Decision      string
	Justification string
	References    []ChunkRef
	Raw           string
	Unstructured  bool
}

// Text 返回面向调用方的答案文本
func (a *Answer) Text() string {
	if a.Unstructured {
		return a.Raw
	}
	return a.Justification
}

// ChatClient 聊天补全客户端抽象，便于测试替换
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Synthesizer 答案生成器：基于检索到的条款构造约束提示词
type Synthesizer struct {
	client      ChatClient
	model       string
	maxTokens   int
	temperature float32
}

// SynthesizerOptions 答案生成器配置
type SynthesizerOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// NewSynthesizer 创建答案生成器（兼容Groq等OpenAI协议服务）
func NewSynthesizer(opts SynthesizerOptions) *Synthesizer {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 512
	}
	return &Synthesizer{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: float32(opts.Temperature),
	}
}

// NewSynthesizerWithClient 注入自定义客户端，供测试使用
func NewSynthesizerWithClient(client ChatClient, model string) *Synthesizer {
	return &Synthesizer{
		client:      client,
		model:       model,
		maxTokens:   512,
		temperature: 0.2,
	}
}

// llmAnswer 模型返回的JSON结构
type llmAnswer struct {
	Decision      string `json:"decision"`
	Justification string `json:"justification"`
	References    []int  `json:"references"`
}

var jsonPattern = regexp.MustCompile(`(?s)\{.*\}`)

// Synthesize 生成基于给定条款的答案；格式错误重试一次后降级为原始文本
func (s *Synthesizer) Synthesize(ctx context.Context, question string, chunks []RetrievedChunk) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, apperrors.NewInvalidInputError("question", "empty")
	}
	if len(chunks) == 0 {
		return &Answer{
			Question:     question,
			Raw:          "No relevant information found in the document.",
			Unstructured: true,
		}, nil
	}

	content, err := s.complete(ctx, s.buildPrompt(question, chunks, false))
	if err != nil {
		return nil, err
	}

	if answer, ok := s.parse(question, content, chunks); ok {
		return answer, nil
	}

	// 格式不合法，带更严格指令重试一次
	logger.Warn("malformed synthesis output, retrying with strict prompt",
		zap.String("question", question))
	retryContent, err := s.complete(ctx, s.buildPrompt(question, chunks, true))
	if err == nil {
		if answer, ok := s.parse(question, retryContent, chunks); ok {
			return answer, nil
		}
		content = retryContent
	}

	// 仍无法解析则返回非结构化答案，不让单个问题拖垮整个批次
	return &Answer{
		Question:     question,
		Raw:          strings.TrimSpace(content),
		Unstructured: true,
	}, nil
}

// complete 调用模型
func (s *Synthesizer) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", apperrors.NewSynthesisError("llm call failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.NewSynthesisError("llm response empty", errors.New("no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

// buildPrompt 构造约束提示词：只允许依据列出的条款作答
func (s *Synthesizer) buildPrompt(question string, chunks []RetrievedChunk, strict bool) string {
	var builder strings.Builder
	builder.WriteString("You are answering a question about an insurance policy document.\n")
	builder.WriteString("Answer ONLY from the policy clauses listed below. ")
	builder.WriteString("If the clauses do not contain the answer, say the policy information does not contain specific details about this.\n\n")
	builder.WriteString("Question: ")
	builder.WriteString(question)
	builder.WriteString("\n\nPolicy clauses:\n")
	for i, chunk := range chunks {
		builder.WriteString(fmt.Sprintf("[%d] (%s): %s\n", i+1, pageLabel(chunk), chunk.Text))
	}
	builder.WriteString("\nReturn only valid JSON with these fields:\n")
	builder.WriteString(`{"decision": "answered/not_found", "justification": "the answer in plain English", "references": [clause numbers actually used]}`)
	builder.WriteString("\n")
	if strict {
		builder.WriteString("Your previous reply was not valid JSON. Respond with the JSON object ONLY, no prose, no markdown fences.\n")
	} else {
		builder.WriteString("Respond only with the JSON.\n")
	}
	return builder.String()
}

func pageLabel(chunk RetrievedChunk) string {
	if chunk.StartPage == chunk.EndPage {
		return fmt.Sprintf("page %d", chunk.StartPage)
	}
	return fmt.Sprintf("pages %d-%d", chunk.StartPage, chunk.EndPage)
}

// parse 提取并校验模型JSON输出，过滤伪造引用
func (s *Synthesizer) parse(question, content string, chunks []RetrievedChunk) (*Answer, bool) {
	raw := jsonPattern.FindString(content)
	if raw == "" {
		return nil, false
	}

	var parsed llmAnswer
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, false
	}
	if strings.TrimSpace(parsed.Justification) == "" {
		return nil, false
	}

	// 引用不在检索集合内的一律丢弃，不能相信模型凭空引用
	var refs []ChunkRef
	for _, idx := range parsed.References {
		if idx < 1 || idx > len(chunks) {
			logger.Debug("dropping fabricated citation",
				zap.String("question", question), zap.Int("reference", idx))
			continue
		}
		chunk := chunks[idx-1]
		refs = append(refs, ChunkRef{
			ChunkIndex:  chunk.ChunkIndex,
			StartPage:   chunk.StartPage,
			EndPage:     chunk.EndPage,
			Fingerprint: chunk.Fingerprint,
		})
	}

	return &Answer{
		Question:      question,
		Decision:      strings.TrimSpace(parsed.Decision),
		Justification: strings.TrimSpace(parsed.Justification),
		References:    refs,
		Raw:           content,
	}, true
}
