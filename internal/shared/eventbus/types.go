// Package eventbus 事件总线类型定义
package eventbus

import (
	"time"
)

// BuildLogLine 一行镜像构建日志
type BuildLogLine struct {
	ID        string    `json:"id"`
	Seq       int       `json:"seq"`
	Line      string    `json:"line"`
	Done      bool      `json:"done,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	// KeyBuildLogs 构建日志 Stream 前缀，后接 submission id
	KeyBuildLogs = "build:logs:"

	// MaxStreamLength 单个构建日志 Stream 的近似最大长度
	MaxStreamLength = 5000

	// TTLBuildLogs 构建结束后日志保留时长
	TTLBuildLogs = 24 * time.Hour
)

// StreamKey 返回构建日志的 Stream key
func StreamKey(key string) string {
	return KeyBuildLogs + key
}
