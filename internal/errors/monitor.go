package errors

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var errorCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "policyqa_errors_total",
	Help: "Pipeline errors by code.",
}, []string{"code"})

// ErrorStats 单个错误码的统计信息
type ErrorStats struct {
	Code        ErrorCode
	Count       int64
	Transient   bool
	LastSeen    time.Time
	LastMessage string
}

// ErrorMonitor 错误监控器：按错误码聚合计数，供诊断接口读取
type ErrorMonitor struct {
	mu    sync.RWMutex
	stats map[ErrorCode]*ErrorStats
}

// NewErrorMonitor 创建错误监控器
func NewErrorMonitor() *ErrorMonitor {
	return &ErrorMonitor{
		stats: make(map[ErrorCode]*ErrorStats),
	}
}

const codeUnknown ErrorCode = "UNKNOWN"

// Record 记录一次错误
func (m *ErrorMonitor) Record(err error) {
	if err == nil {
		return
	}

	code := CodeOf(err)
	if code == "" {
		code = codeUnknown
	}
	errorCounter.WithLabelValues(string(code)).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.stats[code]
	if !ok {
		entry = &ErrorStats{Code: code}
		m.stats[code] = entry
	}
	entry.Count++
	entry.Transient = IsTransient(err)
	entry.LastSeen = time.Now()
	entry.LastMessage = err.Error()
}

// Snapshot 返回当前统计的拷贝
func (m *ErrorMonitor) Snapshot() []ErrorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ErrorStats, 0, len(m.stats))
	for _, entry := range m.stats {
		result = append(result, *entry)
	}
	return result
}

var defaultMonitor = NewErrorMonitor()

// Record 记录错误到全局监控器
func Record(err error) {
	defaultMonitor.Record(err)
}

// Snapshot 读取全局监控器统计
func Snapshot() []ErrorStats {
	return defaultMonitor.Snapshot()
}
