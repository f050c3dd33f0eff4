package cache

import (
	"context"
	"sync"
)

// MemoryCache 进程内缓存（用于测试和单进程部署），不做过期
type MemoryCache struct {
	mu     sync.RWMutex
	states map[string]TaskState
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache 创建进程内缓存
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{states: map[string]TaskState{}}
}

func (c *MemoryCache) SetTaskState(_ context.Context, state *TaskState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[state.TaskID] = *state
	return nil
}

func (c *MemoryCache) GetTaskState(_ context.Context, taskID string) (*TaskState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.states[taskID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (c *MemoryCache) DeleteTaskState(_ context.Context, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, taskID)
	return nil
}

func (c *MemoryCache) Close() error {
	return nil
}
