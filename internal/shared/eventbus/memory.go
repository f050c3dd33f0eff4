package eventbus

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryBus 进程内构建日志总线（用于测试和单进程部署）
type MemoryBus struct {
	mu      sync.Mutex
	streams map[string][]*BuildLogLine
	notify  map[string]chan struct{}
}

var _ BuildLogBus = (*MemoryBus)(nil)

// NewMemoryBus 创建进程内总线
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		streams: map[string][]*BuildLogLine{},
		notify:  map[string]chan struct{}{},
	}
}

func (b *MemoryBus) PublishBuildLog(_ context.Context, key string, line *BuildLogLine) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := *line
	entry.Seq = len(b.streams[key]) + 1
	entry.ID = strconv.Itoa(entry.Seq)
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	b.streams[key] = append(b.streams[key], &entry)

	if ch, ok := b.notify[key]; ok {
		close(ch)
		delete(b.notify, key)
	}
	return nil
}

func (b *MemoryBus) GetBuildLogs(_ context.Context, key, fromID string, count int64) ([]*BuildLogLine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.after(key, fromID, count), nil
}

func (b *MemoryBus) after(key, fromID string, count int64) []*BuildLogLine {
	start := 0
	if fromID != "" {
		if n, err := strconv.Atoi(fromID); err == nil {
			start = n
		}
	}
	lines := b.streams[key]
	if start >= len(lines) {
		return nil
	}
	out := make([]*BuildLogLine, 0, len(lines)-start)
	for _, l := range lines[start:] {
		c := *l
		out = append(out, &c)
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out
}

// wait 返回在 key 有新日志时关闭的通道
func (b *MemoryBus) wait(key string) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.notify[key]
	if !ok {
		ch = make(chan struct{})
		b.notify[key] = ch
	}
	return ch
}

func (b *MemoryBus) SubscribeBuildLogs(ctx context.Context, key string) (<-chan *BuildLogLine, error) {
	ch := make(chan *BuildLogLine, 100)
	go func() {
		defer close(ch)
		lastID := ""
		for {
			wake := b.wait(key)
			b.mu.Lock()
			lines := b.after(key, lastID, 0)
			b.mu.Unlock()

			for _, l := range lines {
				select {
				case ch <- l:
					lastID = l.ID
				case <-ctx.Done():
					return
				}
				if l.Done {
					return
				}
			}

			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (b *MemoryBus) Close() error {
	return nil
}
