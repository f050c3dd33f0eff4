// Package sandbox 隔离执行环境
//
// 每次 Run 都在全新的隔离环境中执行一个执行单元（可信工具或用户编解码器），
// 无论成功与否都会在返回前销毁环境。非零退出码返回 ExecutionError，不重试。
package sandbox

import (
	"context"
	"io"
	"time"
)

// BindMode 挂载模式
type BindMode int

const (
	ReadOnly BindMode = iota
	ReadWrite
)

func (m BindMode) String() string {
	if m == ReadWrite {
		return "rw"
	}
	return "ro"
}

// Binding 宿主机路径到沙箱路径的挂载
type Binding struct {
	HostPath    string
	SandboxPath string
	Mode        BindMode
}

// Unit 可执行单元的引用
type Unit struct {
	Name    string // 镜像 tag，如 transform-<id>:latest
	Trusted bool   // 可信工具允许从公共仓库拉取
}

// ExecutionSpec 单次执行的描述
type ExecutionSpec struct {
	Unit       Unit
	Command    []string
	Entrypoint []string
	Bindings   []Binding
	Env        []string
	// Network 为 false 时沙箱内无网络
	Network bool
	// Label 用于日志和容器命名，如 "encode"
	Label string
}

// RunResult 执行结果
type RunResult struct {
	ExitCode int64
	Log      string
	Duration time.Duration
}

// Sandbox 执行能力
type Sandbox interface {
	Run(ctx context.Context, spec ExecutionSpec) (*RunResult, error)
}

// UnitRuntime 执行单元的构建与分发能力
// 由具体隔离技术实现（当前为 Docker），镜像构建器与分发器只依赖该接口
type UnitRuntime interface {
	// Build 从 tar 构建上下文构建单元，logFn 按产生顺序接收每一行构建日志
	Build(ctx context.Context, tag string, buildContext io.Reader, logFn func(line string)) error
	// Exists 单元是否已在本地可用
	Exists(ctx context.Context, name string) (bool, error)
	// Export 导出单元为可移植的归档流
	Export(ctx context.Context, name string) (io.ReadCloser, error)
	// Import 从归档流导入单元
	Import(ctx context.Context, archive io.Reader) error
	// Pull 从公共仓库拉取单元
	Pull(ctx context.Context, name string) error
}

// Isolation 同时具备执行与分发能力的隔离技术
type Isolation interface {
	Sandbox
	UnitRuntime
}
