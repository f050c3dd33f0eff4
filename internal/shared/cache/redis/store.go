// Package redis Redis 缓存实现
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"codec-bench/internal/shared/cache"
)

// Store Redis 缓存存储
type Store struct {
	client *redis.Client
}

var _ cache.Cache = (*Store)(nil)

// NewStoreFromURL 从 URL 创建 Redis 缓存实例
func NewStoreFromURL(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/Cache] Connected to %s", opts.Addr)
	return &Store{client: client}, nil
}

// NewStoreFromClient 从现有 Redis 客户端创建缓存实例
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}

// SetTaskState 以 Hash 保存任务状态并刷新 TTL
func (s *Store) SetTaskState(ctx context.Context, state *cache.TaskState) error {
	key := cache.KeyTaskState + state.TaskID
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	data := map[string]interface{}{
		"task_id":    state.TaskID,
		"name":       state.Name,
		"queue":      state.Queue,
		"state":      state.State,
		"result":     state.Result,
		"error":      state.Error,
		"updated_at": state.UpdatedAt.Format(time.RFC3339Nano),
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, cache.TTLTaskState)
	_, err := pipe.Exec(ctx)
	return err
}

// GetTaskState 获取任务状态
func (s *Store) GetTaskState(ctx context.Context, taskID string) (*cache.TaskState, error) {
	result, err := s.client.HGetAll(ctx, cache.KeyTaskState+taskID).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	state := &cache.TaskState{
		TaskID: result["task_id"],
		Name:   result["name"],
		Queue:  result["queue"],
		State:  result["state"],
		Result: result["result"],
		Error:  result["error"],
	}
	if t, err := time.Parse(time.RFC3339Nano, result["updated_at"]); err == nil {
		state.UpdatedAt = t
	}
	return state, nil
}

// DeleteTaskState 删除任务状态
func (s *Store) DeleteTaskState(ctx context.Context, taskID string) error {
	return s.client.Del(ctx, cache.KeyTaskState+taskID).Err()
}
