// Package cache 缓存层抽象接口
//
// 提供临时状态的存取能力，当前由 Redis 实现。
package cache

import (
	"context"
)

// TaskStateCache 任务状态缓存接口
type TaskStateCache interface {
	// SetTaskState 写入任务状态，覆盖同一任务的旧状态
	SetTaskState(ctx context.Context, state *TaskState) error
	// GetTaskState 读取任务状态，不存在时返回 (nil, nil)
	GetTaskState(ctx context.Context, taskID string) (*TaskState, error)
	DeleteTaskState(ctx context.Context, taskID string) error
}

// Cache 缓存组合接口
type Cache interface {
	TaskStateCache
	Close() error
}
