package pipeline

import (
	"sync"
	"time"
)

// PerformanceMonitor 滚动记录请求耗时，供统计接口使用
type PerformanceMonitor struct {
	mu         sync.RWMutex
	durations  []time.Duration
	maxSamples int
	next       int
	filled     bool
	total      int64
	startedAt  time.Time
}

// NewPerformanceMonitor 创建性能监控器
func NewPerformanceMonitor(maxSamples int) *PerformanceMonitor {
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	return &PerformanceMonitor{
		durations:  make([]time.Duration, maxSamples),
		maxSamples: maxSamples,
		startedAt:  time.Now(),
	}
}

// Record 记录一次请求耗时
func (m *PerformanceMonitor) Record(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[m.next] = d
	m.next = (m.next + 1) % m.maxSamples
	if m.next == 0 {
		m.filled = true
	}
	m.total++
}

// Average 滚动窗口内的平均耗时
func (m *PerformanceMonitor) Average() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := m.next
	if m.filled {
		count = m.maxSamples
	}
	if count == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < count; i++ {
		sum += m.durations[i]
	}
	return sum / time.Duration(count)
}

// Total 累计请求数
func (m *PerformanceMonitor) Total() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// Uptime 运行时长
func (m *PerformanceMonitor) Uptime() time.Duration {
	return time.Since(m.startedAt)
}
