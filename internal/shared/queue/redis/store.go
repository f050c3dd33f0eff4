// Package redis 基于 Redis Streams 的任务队列
//
// 每个队列一个 Stream（tasks:<queue>），所有 Worker 加入同一个消费者组，
// 消息在组内只投递一次。
package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"codec-bench/internal/shared/queue"
)

// Store Redis 队列存储
type Store struct {
	client *redis.Client
}

var _ queue.Broker = (*Store)(nil)

// NewStoreFromURL 从 URL 创建 Redis 队列
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

	log.Printf("[Redis/Queue] Connected to %s", opts.Addr)
	return &Store{client: client}, nil
}

// NewStoreFromClient 从现有 Redis 客户端创建队列
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}

// EnsureQueue 创建消费者组
func (s *Store) EnsureQueue(ctx context.Context, name string) error {
	err := s.client.XGroupCreateMkStream(ctx, queue.StreamKey(name), queue.WorkerConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Publish 将任务消息加入队列
func (s *Store) Publish(ctx context.Context, name string, msg *queue.Message) (string, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	args := &redis.XAddArgs{
		Stream: queue.StreamKey(name),
		MaxLen: queue.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"task_id":    msg.TaskID,
			"name":       msg.Name,
			"body":       string(msg.Body),
			"created_at": msg.CreatedAt.Format(time.RFC3339Nano),
		},
	}
	return s.client.XAdd(ctx, args).Result()
}

// Consume 从消费者组读取新消息
func (s *Store) Consume(ctx context.Context, name, consumer string, count int64, block time.Duration) ([]*queue.Delivery, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    queue.WorkerConsumerGroup,
		Consumer: consumer,
		Streams:  []string{queue.StreamKey(name), ">"},
		Count:    count,
		Block:    block,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if errors.Is(err, redis.ErrClosed) {
			return nil, queue.ErrClosed
		}
		return nil, err
	}

	var deliveries []*queue.Delivery
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			deliveries = append(deliveries, &queue.Delivery{
				ID:      msg.ID,
				Queue:   name,
				Message: decodeMessage(msg.Values),
			})
		}
	}
	return deliveries, nil
}

func decodeMessage(values map[string]interface{}) *queue.Message {
	m := &queue.Message{}
	if v, ok := values["task_id"].(string); ok {
		m.TaskID = v
	}
	if v, ok := values["name"].(string); ok {
		m.Name = v
	}
	if v, ok := values["body"].(string); ok {
		m.Body = []byte(v)
	}
	if v, ok := values["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			m.CreatedAt = t
		}
	}
	return m
}

// Ack 确认消息已处理
func (s *Store) Ack(ctx context.Context, name, id string) error {
	return s.client.XAck(ctx, queue.StreamKey(name), queue.WorkerConsumerGroup, id).Err()
}

// Length 队列长度
func (s *Store) Length(ctx context.Context, name string) (int64, error) {
	return s.client.XLen(ctx, queue.StreamKey(name)).Result()
}

// PendingCount 获取未确认消息数量
func (s *Store) PendingCount(ctx context.Context, name string) (int64, error) {
	pending, err := s.client.XPending(ctx, queue.StreamKey(name), queue.WorkerConsumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}
