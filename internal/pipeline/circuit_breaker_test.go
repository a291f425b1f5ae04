package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 1, time.Minute)
	failing := func() error { return errors.New("boom") }

	assert.Error(t, cb.Call(failing))
	assert.Equal(t, StateClosed, cb.State())

	assert.Error(t, cb.Call(failing))
	assert.Equal(t, StateOpen, cb.State())

	// 打开状态下直接拒绝，不再调用目标函数
	called := false
	err := cb.Call(func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 2, 10*time.Millisecond)

	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	require.Equal(t, StateOpen, cb.State())

	// 冷却后进入半开，连续成功达到阈值则闭合
	time.Sleep(15 * time.Millisecond)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 2, 10*time.Millisecond)

	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	time.Sleep(15 * time.Millisecond)

	require.Error(t, cb.Call(func() error { return errors.New("still broken") }))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 1, time.Minute)

	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	require.NoError(t, cb.Call(func() error { return nil }))
	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	assert.Equal(t, StateClosed, cb.State(), "success must reset the failure streak")
}

func TestNewDefaultCircuitBreakerInstancesAreIndependent(t *testing.T) {
	a := NewDefaultCircuitBreaker("llm")
	b := NewDefaultCircuitBreaker("llm")
	require.NotSame(t, a, b)

	for i := 0; i < 5; i++ {
		assert.Error(t, a.Call(func() error { return errors.New("boom") }))
	}
	assert.Equal(t, StateOpen, a.State())
	assert.Equal(t, StateClosed, b.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
