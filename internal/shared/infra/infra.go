// Package infra 基础设施聚合层
//
// 提供统一的基础设施初始化和依赖注入，包括：
//   - Queue：任务队列（Redis Streams）
//   - Cache：任务状态缓存（Redis Hash）
//   - BuildLogs：构建日志总线（Redis Streams）
package infra

import (
	"errors"

	"codec-bench/internal/shared/cache"
	"codec-bench/internal/shared/eventbus"
	"codec-bench/internal/shared/queue"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	// Queue 任务队列
	Queue queue.Broker

	// Cache 任务状态缓存
	Cache cache.Cache

	// BuildLogs 构建日志总线
	BuildLogs eventbus.BuildLogBus

	// close 关闭底层连接；组件共享连接时只关闭一次
	close func() error
}

// Close 关闭所有基础设施连接
func (i *Infrastructure) Close() error {
	if i.close != nil {
		return i.close()
	}
	var errs []error
	for _, c := range []interface{ Close() error }{i.Queue, i.Cache, i.BuildLogs} {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// NewMemoryInfrastructure 创建进程内基础设施（用于测试）
func NewMemoryInfrastructure() *Infrastructure {
	return &Infrastructure{
		Queue:     queue.NewMemoryBroker(),
		Cache:     cache.NewMemoryCache(),
		BuildLogs: eventbus.NewMemoryBus(),
	}
}
