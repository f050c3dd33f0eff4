package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryBroker 进程内队列（用于测试和单进程部署）
type MemoryBroker struct {
	mu      sync.Mutex
	queues  map[string][]*Delivery
	pending map[string]map[string]*Delivery
	seq     int64
	notify  chan struct{}
	closed  bool
}

var _ Broker = (*MemoryBroker)(nil)

// NewMemoryBroker 创建进程内队列
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues:  map[string][]*Delivery{},
		pending: map[string]map[string]*Delivery{},
		notify:  make(chan struct{}),
	}
}

func (b *MemoryBroker) EnsureQueue(_ context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[queue]; !ok {
		b.pending[queue] = map[string]*Delivery{}
	}
	return nil
}

func (b *MemoryBroker) Publish(_ context.Context, queue string, msg *Message) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + strconv.FormatInt(b.seq, 10)
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	b.queues[queue] = append(b.queues[queue], &Delivery{ID: id, Queue: queue, Message: msg})
	b.wake()
	return id, nil
}

// wake 唤醒所有等待中的消费者，调用方持有锁
func (b *MemoryBroker) wake() {
	close(b.notify)
	b.notify = make(chan struct{})
}

func (b *MemoryBroker) Consume(ctx context.Context, queue, _ string, count int64, block time.Duration) ([]*Delivery, error) {
	if count <= 0 {
		count = 1
	}
	timer := time.NewTimer(block)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		if q := b.queues[queue]; len(q) > 0 {
			n := int(count)
			if n > len(q) {
				n = len(q)
			}
			out := append([]*Delivery(nil), q[:n]...)
			b.queues[queue] = q[n:]
			if b.pending[queue] == nil {
				b.pending[queue] = map[string]*Delivery{}
			}
			for _, d := range out {
				b.pending[queue][d.ID] = d
			}
			b.mu.Unlock()
			return out, nil
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return []*Delivery{}, nil
		case <-wait:
		}
	}
}

func (b *MemoryBroker) Ack(_ context.Context, queue, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending[queue], id)
	return nil
}

func (b *MemoryBroker) Length(_ context.Context, queue string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.queues[queue])), nil
}

// Pending 已投递未确认的消息数（测试断言用）
func (b *MemoryBroker) Pending(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[queue])
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		b.wake()
	}
	return nil
}
