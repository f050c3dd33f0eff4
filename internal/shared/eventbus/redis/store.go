// Package redis 基于 Redis Streams 的构建日志总线
package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"codec-bench/internal/shared/eventbus"
)

// Store Redis 构建日志总线
type Store struct {
	client *redis.Client
}

var _ eventbus.BuildLogBus = (*Store)(nil)

// NewStoreFromClient 从现有 Redis 客户端创建总线
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}

// PublishBuildLog 追加一行构建日志
func (s *Store) PublishBuildLog(ctx context.Context, key string, line *eventbus.BuildLogLine) error {
	stream := eventbus.StreamKey(key)
	if line.Timestamp.IsZero() {
		line.Timestamp = time.Now().UTC()
	}

	pipe := s.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: eventbus.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"line":      line.Line,
			"done":      strconv.FormatBool(line.Done),
			"timestamp": line.Timestamp.Format(time.RFC3339Nano),
		},
	})
	if line.Done {
		pipe.Expire(ctx, stream, eventbus.TTLBuildLogs)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish build log: %w", err)
	}
	if line.Done {
		log.Printf("[Redis/EventBus] Build log closed: %s", key)
	}
	return nil
}

// GetBuildLogs 读取 fromID 之后的构建日志
func (s *Store) GetBuildLogs(ctx context.Context, key, fromID string, count int64) ([]*eventbus.BuildLogLine, error) {
	start := "-"
	if fromID != "" {
		start = "(" + fromID
	}

	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = s.client.XRangeN(ctx, eventbus.StreamKey(key), start, "+", count).Result()
	} else {
		msgs, err = s.client.XRange(ctx, eventbus.StreamKey(key), start, "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build logs: %w", err)
	}

	lines := make([]*eventbus.BuildLogLine, 0, len(msgs))
	for _, msg := range msgs {
		lines = append(lines, decodeLine(msg))
	}
	return lines, nil
}

// SubscribeBuildLogs 回放并跟随构建日志
func (s *Store) SubscribeBuildLogs(ctx context.Context, key string) (<-chan *eventbus.BuildLogLine, error) {
	stream := eventbus.StreamKey(key)
	ch := make(chan *eventbus.BuildLogLine, 100)

	go func() {
		defer close(ch)
		lastID := "0"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := s.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   100,
				Block:   5 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() == nil {
					log.Printf("[Redis/EventBus] Build log subscription error: %v", err)
				}
				return
			}

			for _, st := range streams {
				for _, msg := range st.Messages {
					line := decodeLine(msg)
					select {
					case ch <- line:
						lastID = msg.ID
					case <-ctx.Done():
						return
					}
					if line.Done {
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

func decodeLine(msg redis.XMessage) *eventbus.BuildLogLine {
	line := &eventbus.BuildLogLine{ID: msg.ID}
	if v, ok := msg.Values["line"].(string); ok {
		line.Line = v
	}
	if v, ok := msg.Values["done"].(string); ok {
		line.Done, _ = strconv.ParseBool(v)
	}
	if v, ok := msg.Values["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			line.Timestamp = t
		}
	}
	return line
}
