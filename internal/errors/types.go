package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 文档获取与解析错误（请求级致命）
	ErrCodeFetchFailed       ErrorCode = "FETCH_FAILED"
	ErrCodeUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrCodeExtractionFailed  ErrorCode = "EXTRACTION_FAILED"

	// 外部服务错误（瞬时，可重试）
	ErrCodeEmbeddingService ErrorCode = "EMBEDDING_SERVICE_ERROR"
	ErrCodeIndexUnavailable ErrorCode = "INDEX_UNAVAILABLE"

	// 答案生成错误（降级为非结构化答案，不中断批次）
	ErrCodeSynthesisFailed ErrorCode = "SYNTHESIS_FAILED"

	// 缓存错误（始终吞掉，按未命中处理）
	ErrCodeCacheError ErrorCode = "CACHE_ERROR"

	// 通用错误
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// PipelineError 管道错误结构体
type PipelineError struct {
	Code      ErrorCode
	Message   string
	Transient bool
	Cause     error
}

// Error 实现error接口
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// WithCause 添加错误原因
func (e *PipelineError) WithCause(cause error) *PipelineError {
	e.Cause = cause
	return e
}

// 错误构造函数

// NewFetchError 创建文档下载错误
func NewFetchError(url string, cause error) *PipelineError {
	return &PipelineError{
		Code:    ErrCodeFetchFailed,
		Message: fmt.Sprintf("failed to fetch document from %s", url),
		Cause:   cause,
	}
}

// NewUnsupportedFormatError 创建不支持格式错误
func NewUnsupportedFormatError(detail string) *PipelineError {
	return &PipelineError{
		Code:    ErrCodeUnsupportedFormat,
		Message: fmt.Sprintf("unsupported document format: %s", detail),
	}
}

// NewExtractionError 创建文本提取错误
func NewExtractionError(message string, cause error) *PipelineError {
	return &PipelineError{
		Code:    ErrCodeExtractionFailed,
		Message: message,
		Cause:   cause,
	}
}

// NewEmbeddingError 创建向量化服务错误（瞬时）
func NewEmbeddingError(cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeEmbeddingService,
		Message:   "embedding service call failed",
		Transient: true,
		Cause:     cause,
	}
}

// NewIndexUnavailableError 创建向量索引不可用错误（瞬时）
func NewIndexUnavailableError(cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeIndexUnavailable,
		Message:   "vector index unavailable",
		Transient: true,
		Cause:     cause,
	}
}

// NewSynthesisError 创建答案生成错误（瞬时）
func NewSynthesisError(message string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeSynthesisFailed,
		Message:   message,
		Transient: true,
		Cause:     cause,
	}
}

// NewCacheError 创建缓存错误
func NewCacheError(cause error) *PipelineError {
	return &PipelineError{
		Code:    ErrCodeCacheError,
		Message: "cache operation failed",
		Cause:   cause,
	}
}

// NewTimeoutError 创建阶段超时错误
func NewTimeoutError(stage string) *PipelineError {
	return &PipelineError{
		Code:    ErrCodeTimeout,
		Message: fmt.Sprintf("stage %s exceeded its deadline", stage),
	}
}

// NewInvalidInputError 创建输入无效错误
func NewInvalidInputError(field, reason string) *PipelineError {
	return &PipelineError{
		Code:    ErrCodeInvalidInput,
		Message: fmt.Sprintf("invalid input for %s: %s", field, reason),
	}
}

// IsTransient 判断错误是否为可重试的瞬时错误
func IsTransient(err error) bool {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// CodeOf 提取错误码，非PipelineError返回空
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// HasCode 判断错误链上是否存在指定错误码
func HasCode(err error, code ErrorCode) bool {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
