// Package docker 基于 Docker 的沙箱实现
//
// 每次 Run 创建一次性容器：创建 → 启动 → 等待 → 读取日志 → 强制删除。
// 同时实现 sandbox.UnitRuntime，负责镜像的构建、导出、导入和拉取。
package docker

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"codec-bench/internal/sandbox"
	"codec-bench/pkg/docker"
)

// maxLogBytes 单次执行保留的日志上限（保留尾部）
const maxLogBytes = 1 << 20

// removeTimeout 容器清理超时，清理不受调用方 ctx 取消影响
const removeTimeout = 30 * time.Second

// Backend Docker 沙箱
type Backend struct {
	cli        *docker.Client
	dockerfile string
}

var _ sandbox.Isolation = (*Backend)(nil)

// New 创建 Docker 沙箱，dockerfile 为空时使用构建上下文根目录的 Dockerfile
func New(cli *docker.Client, dockerfile string) *Backend {
	return &Backend{cli: cli, dockerfile: dockerfile}
}

// Run 在一次性容器中执行 spec，容器在任何返回路径上都会被删除
func (b *Backend) Run(ctx context.Context, spec sandbox.ExecutionSpec) (*sandbox.RunResult, error) {
	start := time.Now()

	binds := make([]string, 0, len(spec.Bindings))
	for _, bind := range spec.Bindings {
		binds = append(binds, fmt.Sprintf("%s:%s:%s", bind.HostPath, bind.SandboxPath, bind.Mode))
	}

	name := "bench-" + uuid.NewString()[:12]
	if spec.Label != "" {
		name = fmt.Sprintf("bench-%s-%s", spec.Label, uuid.NewString()[:8])
	}

	containerID, err := b.cli.CreateContainer(ctx, &docker.ContainerConfig{
		Name:       name,
		Image:      spec.Unit.Name,
		Entrypoint: spec.Entrypoint,
		Cmd:        spec.Command,
		Env:        spec.Env,
		Binds:      binds,
		NoNetwork:  !spec.Network,
		Tty:        true,
		Labels:     map[string]string{"codec-bench.stage": spec.Label},
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
		defer cancel()
		if err := b.cli.RemoveContainer(rmCtx, containerID, true); err != nil {
			log.Printf("[Sandbox] remove container %s failed: %v", containerID[:12], err)
		}
	}()

	if err := b.cli.StartContainer(ctx, containerID); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	exitCode, waitErr := b.cli.WaitContainer(ctx, containerID)
	logs := b.readLogs(context.WithoutCancel(ctx), containerID)
	if waitErr != nil && exitCode < 0 {
		return nil, fmt.Errorf("wait container: %w", waitErr)
	}

	result := &sandbox.RunResult{ExitCode: exitCode, Log: logs, Duration: time.Since(start)}
	if exitCode != 0 {
		return result, &sandbox.ExecutionError{Unit: spec.Unit.Name, ExitCode: exitCode, Log: logs}
	}
	return result, nil
}

func (b *Backend) readLogs(ctx context.Context, containerID string) string {
	rc, err := b.cli.ContainerLogs(ctx, containerID)
	if err != nil {
		log.Printf("[Sandbox] read logs of %s failed: %v", containerID[:12], err)
		return ""
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		log.Printf("[Sandbox] read logs of %s failed: %v", containerID[:12], err)
	}
	if len(data) > maxLogBytes {
		data = data[len(data)-maxLogBytes:]
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n")
}

func (b *Backend) Build(ctx context.Context, tag string, buildContext io.Reader, logFn func(string)) error {
	return b.cli.BuildImage(ctx, tag, buildContext, b.dockerfile, logFn)
}

func (b *Backend) Exists(ctx context.Context, name string) (bool, error) {
	return b.cli.ImageExists(ctx, name)
}

func (b *Backend) Export(ctx context.Context, name string) (io.ReadCloser, error) {
	return b.cli.SaveImage(ctx, name)
}

func (b *Backend) Import(ctx context.Context, archive io.Reader) error {
	return b.cli.LoadImage(ctx, archive)
}

func (b *Backend) Pull(ctx context.Context, name string) error {
	return b.cli.PullImage(ctx, name)
}
