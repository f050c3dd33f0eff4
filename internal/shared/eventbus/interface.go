// Package eventbus 事件总线抽象接口
//
// 构建日志按行写入，支持回放与实时跟随，当前由 Redis Streams 实现。
package eventbus

import (
	"context"
)

// BuildLogBus 构建日志总线
type BuildLogBus interface {
	// PublishBuildLog 追加一行日志，line.Done 为 true 表示构建结束
	PublishBuildLog(ctx context.Context, key string, line *BuildLogLine) error
	// GetBuildLogs 从 fromID（不含）之后读取最多 count 行，fromID 为空时从头读取
	GetBuildLogs(ctx context.Context, key, fromID string, count int64) ([]*BuildLogLine, error)
	// SubscribeBuildLogs 先回放已有日志再跟随新日志，读到 Done 行或 ctx 结束时关闭通道
	SubscribeBuildLogs(ctx context.Context, key string) (<-chan *BuildLogLine, error)
	Close() error
}
