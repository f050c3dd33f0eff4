// Package queue 消息队列类型定义
package queue

import (
	"time"
)

// ============================================================================
// 消息类型
// ============================================================================

// Message 队列中的任务消息，Body 由任务层编码
type Message struct {
	TaskID    string
	Name      string
	Body      []byte
	CreatedAt time.Time
}

// Delivery 消费到的一条消息
type Delivery struct {
	ID      string
	Queue   string
	Message *Message
}

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// 任务队列 Stream 前缀，完整 key 如 tasks:default
	KeyTasksPrefix = "tasks:"

	// 消费者组
	WorkerConsumerGroup = "workers"

	// Stream 最大长度
	MaxStreamLength = 10000
)

// StreamKey 返回队列对应的 Stream key
func StreamKey(queue string) string {
	return KeyTasksPrefix + queue
}
