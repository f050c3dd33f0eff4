// Package queue 消息队列抽象接口
//
// 提供任务分发和消费的队列能力，当前由 Redis Streams 实现；
// 测试和单进程部署使用 MemoryBroker。
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed Broker 已关闭
var ErrClosed = errors.New("queue: broker closed")

// Broker 任务队列接口
//
// 每条消息只投递给消费者组中的一个消费者；消费者处理完成后必须 Ack。
// 不做重投递。
type Broker interface {
	// EnsureQueue 创建队列及消费者组（已存在时忽略）
	EnsureQueue(ctx context.Context, queue string) error
	// Publish 发布消息，返回消息 ID
	Publish(ctx context.Context, queue string, msg *Message) (string, error)
	// Consume 阻塞至多 block 时长读取新消息，无消息时返回空切片；Broker 关闭后返回 ErrClosed
	Consume(ctx context.Context, queue, consumer string, count int64, block time.Duration) ([]*Delivery, error)
	// Ack 确认消息已处理
	Ack(ctx context.Context, queue, id string) error
	// Length 队列长度
	Length(ctx context.Context, queue string) (int64, error)
	Close() error
}
