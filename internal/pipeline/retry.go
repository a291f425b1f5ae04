package pipeline

import (
	"context"
	"math/rand"
	"time"

	apperrors "github.com/aihub/policyqa-go/internal/errors"
	"github.com/aihub/policyqa-go/internal/logger"
	"go.uber.org/zap"
)

// RetryPolicy 统一重试策略：指数退避 + 抖动，仅重试瞬时错误
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy 默认重试策略
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Do 执行操作，瞬时错误按退避重试，其余错误立即返回
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		apperrors.Record(lastErr)
		if !apperrors.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := p.backoff(attempt)
		logger.Warn("transient failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// backoff 第n次失败后的等待时长，±25%抖动
func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	// 左移在大attempt下会溢出为负数，超界一律取上限
	delay := maxDelay
	if shift := attempt - 1; shift < 32 {
		if shifted := base << shift; shifted > 0 && shifted < maxDelay {
			delay = shifted
		}
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - delay/4
	return delay + jitter
}
