package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// CircuitBreakerState 熔断器状态
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// ErrCircuitOpen 熔断器打开时拒绝请求
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker 外部服务调用熔断器
type CircuitBreaker struct {
	name string

	failureThreshold int           // 失败阈值
	successThreshold int           // 半开状态下的恢复阈值
	cooldown         time.Duration // 打开后的冷却时长

	state           int32
	failureCount    int32
	successCount    int32
	lastFailureTime time.Time
	mutex           sync.RWMutex
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(name string, failureThreshold, successThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		state:            int32(StateClosed),
	}
}

// Call 执行函数调用（带熔断保护）
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.canExecute() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.recordResult(err == nil)
	return err
}

func (cb *CircuitBreaker) canExecute() bool {
	switch cb.State() {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		cb.mutex.RLock()
		cooled := time.Since(cb.lastFailureTime) >= cb.cooldown
		cb.mutex.RUnlock()
		if cooled {
			atomic.StoreInt32(&cb.state, int32(StateHalfOpen))
			atomic.StoreInt32(&cb.successCount, 0)
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordResult(success bool) {
	if success {
		cb.recordSuccess()
		return
	}
	cb.recordFailure()
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.State() {
	case StateHalfOpen:
		if int(atomic.AddInt32(&cb.successCount, 1)) >= cb.successThreshold {
			atomic.StoreInt32(&cb.state, int32(StateClosed))
			atomic.StoreInt32(&cb.failureCount, 0)
		}
	case StateClosed:
		atomic.StoreInt32(&cb.failureCount, 0)
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	cb.lastFailureTime = time.Now()
	cb.mutex.Unlock()

	switch cb.State() {
	case StateHalfOpen:
		atomic.StoreInt32(&cb.state, int32(StateOpen))
		atomic.StoreInt32(&cb.successCount, 0)
	case StateClosed:
		if int(atomic.AddInt32(&cb.failureCount, 1)) >= cb.failureThreshold {
			atomic.StoreInt32(&cb.state, int32(StateOpen))
		}
	}
}

// State 获取当前状态
func (cb *CircuitBreaker) State() CircuitBreakerState {
	return CircuitBreakerState(atomic.LoadInt32(&cb.state))
}

// String 返回状态字符串
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NewDefaultCircuitBreaker 按默认阈值创建熔断器
func NewDefaultCircuitBreaker(name string) *CircuitBreaker {
	return NewCircuitBreaker(name, 5, 3, time.Minute)
}
