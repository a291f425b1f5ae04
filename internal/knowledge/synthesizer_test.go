package knowledge

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/aihub/policyqa-go/internal/errors"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockChatClient 模拟聊天补全客户端
type mockChatClient struct {
	mock.Mock
}

func (m *mockChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.ChatCompletionResponse), args.Error(1)
}

func chatResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func retrievedChunks() []RetrievedChunk {
	return []RetrievedChunk{
		{Text: "The grace period is thirty days.", ChunkIndex: 4, StartPage: 2, EndPage: 2, Fingerprint: "fp-1"},
		{Text: "Knee surgery requires 24 months of continuous coverage.", ChunkIndex: 9, StartPage: 5, EndPage: 6, Fingerprint: "fp-2"},
	}
}

func TestSynthesizeStructuredAnswer(t *testing.T) {
	client := new(mockChatClient)
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(chatResponse(`{"decision": "answered", "justification": "The grace period is thirty days.", "references": [1]}`), nil).Once()

	synthesizer := NewSynthesizerWithClient(client, "test-model")
	answer, err := synthesizer.Synthesize(context.Background(), "What is the grace period?", retrievedChunks())
	require.NoError(t, err)

	assert.False(t, answer.Unstructured)
	assert.Equal(t, "answered", answer.Decision)
	assert.Equal(t, "The grace period is thirty days.", answer.Text())
	require.Len(t, answer.References, 1)
	assert.Equal(t, 4, answer.References[0].ChunkIndex)
	assert.Equal(t, "fp-1", answer.References[0].Fingerprint)
	client.AssertExpectations(t)
}

func TestSynthesizeDropsFabricatedCitations(t *testing.T) {
	client := new(mockChatClient)
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(chatResponse(`{"decision": "answered", "justification": "Covered.", "references": [1, 7, 0]}`), nil).Once()

	synthesizer := NewSynthesizerWithClient(client, "test-model")
	answer, err := synthesizer.Synthesize(context.Background(), "Is knee surgery covered?", retrievedChunks())
	require.NoError(t, err)

	// 超出检索集合的引用必须被丢弃
	require.Len(t, answer.References, 1)
	assert.Equal(t, "fp-1", answer.References[0].Fingerprint)
}

func TestSynthesizeRetriesOnMalformedOutput(t *testing.T) {
	client := new(mockChatClient)
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(chatResponse("Sure! Here is my answer without any JSON."), nil).Once()
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(chatResponse(`{"decision": "answered", "justification": "Thirty days.", "references": []}`), nil).Once()

	synthesizer := NewSynthesizerWithClient(client, "test-model")
	answer, err := synthesizer.Synthesize(context.Background(), "What is the grace period?", retrievedChunks())
	require.NoError(t, err)

	assert.False(t, answer.Unstructured)
	assert.Equal(t, "Thirty days.", answer.Text())
	client.AssertExpectations(t)
}

func TestSynthesizeFallsBackToUnstructured(t *testing.T) {
	client := new(mockChatClient)
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(chatResponse("The answer is thirty days but I refuse to emit JSON."), nil).Twice()

	synthesizer := NewSynthesizerWithClient(client, "test-model")
	answer, err := synthesizer.Synthesize(context.Background(), "What is the grace period?", retrievedChunks())
	require.NoError(t, err)

	assert.True(t, answer.Unstructured)
	assert.Contains(t, answer.Text(), "thirty days")
	client.AssertExpectations(t)
}

func TestSynthesizeEmptyChunks(t *testing.T) {
	client := new(mockChatClient)
	synthesizer := NewSynthesizerWithClient(client, "test-model")

	answer, err := synthesizer.Synthesize(context.Background(), "What is the grace period?", nil)
	require.NoError(t, err)
	assert.True(t, answer.Unstructured)
	assert.Equal(t, "No relevant information found in the document.", answer.Text())
	client.AssertNotCalled(t, "CreateChatCompletion")
}

func TestSynthesizeEmptyQuestion(t *testing.T) {
	synthesizer := NewSynthesizerWithClient(new(mockChatClient), "test-model")
	_, err := synthesizer.Synthesize(context.Background(), "  ", retrievedChunks())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.CodeOf(err))
}

func TestSynthesizeLLMFailureIsTransient(t *testing.T) {
	client := new(mockChatClient)
	client.On("CreateChatCompletion", mock.Anything, mock.Anything).
		Return(openai.ChatCompletionResponse{}, errors.New("rate limited")).Once()

	synthesizer := NewSynthesizerWithClient(client, "test-model")
	_, err := synthesizer.Synthesize(context.Background(), "What is covered?", retrievedChunks())
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.Equal(t, apperrors.ErrCodeSynthesisFailed, apperrors.CodeOf(err))
}
