package service

import (
	"sync"
	"time"
)

// Monitor 监控服务，统计回调处理与出站发送的错误和吞吐
type Monitor struct {
	mu sync.RWMutex

	// 回调侧
	WebhookEvents  int64
	StoredMessages int64
	SkippedItems   int64
	DedupHits      int64
	StatusUpdates  int64

	// 错误统计
	DBErrors       int64
	MQErrors       int64
	DispatchErrors int64

	// 出站侧
	DispatchRequests int64

	LastWebhookTime  time.Time
	LastDBError      time.Time
	LastMQError      time.Time
	LastDispatchTime time.Time
}

var globalMonitor = &Monitor{}

// GetMonitor 获取全局监控实例
func GetMonitor() *Monitor {
	return globalMonitor
}

// RecordWebhookEvent 记录一次回调事件
func (m *Monitor) RecordWebhookEvent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WebhookEvents++
	m.LastWebhookTime = time.Now()
}

// RecordStoredMessage 记录一条真正落库的消息
func (m *Monitor) RecordStoredMessage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StoredMessages++
}

// RecordSkippedItem 记录一条被跳过的坏数据
func (m *Monitor) RecordSkippedItem() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SkippedItems++
}

// RecordDedupHit 记录一次重投命中
func (m *Monitor) RecordDedupHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DedupHits++
}

// RecordStatusUpdate 记录一次状态回执
func (m *Monitor) RecordStatusUpdate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusUpdates++
}

// RecordDBError 记录数据库错误
func (m *Monitor) RecordDBError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DBErrors++
	m.LastDBError = time.Now()
}

// RecordMQError 记录MQ错误
func (m *Monitor) RecordMQError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MQErrors++
	m.LastMQError = time.Now()
}

// RecordDispatchRequest 记录一次出站发送
func (m *Monitor) RecordDispatchRequest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DispatchRequests++
	m.LastDispatchTime = time.Now()
}

// RecordDispatchError 记录出站发送失败
func (m *Monitor) RecordDispatchError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DispatchErrors++
}

// Snapshot 导出当前计数，给健康检查接口用
func (m *Monitor) Snapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int64{
		"webhook_events":    m.WebhookEvents,
		"stored_messages":   m.StoredMessages,
		"skipped_items":     m.SkippedItems,
		"dedup_hits":        m.DedupHits,
		"status_updates":    m.StatusUpdates,
		"db_errors":         m.DBErrors,
		"mq_errors":         m.MQErrors,
		"dispatch_requests": m.DispatchRequests,
		"dispatch_errors":   m.DispatchErrors,
	}
}
