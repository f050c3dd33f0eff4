// Package cache 缓存层类型定义
package cache

import (
	"time"
)

// ============================================================================
// 缓存数据类型
// ============================================================================

// TaskState 异步任务状态（按任务 ID 查询）
type TaskState struct {
	TaskID    string    `json:"task_id" redis:"task_id"`
	Name      string    `json:"name" redis:"name"`
	Queue     string    `json:"queue" redis:"queue"`
	State     string    `json:"state" redis:"state"`
	Result    string    `json:"result,omitempty" redis:"result"`
	Error     string    `json:"error,omitempty" redis:"error"`
	UpdatedAt time.Time `json:"updated_at" redis:"updated_at"`
}

// ============================================================================
// Key 前缀和 TTL 常量
// ============================================================================

const (
	// Key 前缀
	KeyTaskState = "task:"

	// TTL 常量
	TTLTaskState = 24 * time.Hour
)
