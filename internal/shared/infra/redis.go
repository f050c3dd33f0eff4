// Package infra Redis 基础设施初始化
package infra

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	cacheredis "codec-bench/internal/shared/cache/redis"
	eventbusredis "codec-bench/internal/shared/eventbus/redis"
	queueredis "codec-bench/internal/shared/queue/redis"
)

// NewRedisInfrastructure 从 URL 创建共享同一连接的 Redis 基础设施
func NewRedisInfrastructure(redisURL string) (*Infrastructure, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/Infra] Connected to %s", opts.Addr)

	return &Infrastructure{
		Queue:     queueredis.NewStoreFromClient(client),
		Cache:     cacheredis.NewStoreFromClient(client),
		BuildLogs: eventbusredis.NewStoreFromClient(client),
		close:     client.Close,
	}, nil
}
