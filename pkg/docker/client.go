// Package docker 封装 Docker API 客户端
//
// 使用官方 github.com/moby/moby/client 库，
// 提供一次性容器执行和镜像构建、导出、导入、拉取功能。
package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

// ContainerConfig 容器配置
type ContainerConfig struct {
	Name       string            // 容器名称
	Image      string            // 镜像名称
	Entrypoint []string          // 入口点（覆盖镜像默认）
	Cmd        []string          // 启动命令
	Env        []string          // 环境变量
	WorkingDir string            // 工作目录
	Binds      []string          // 挂载 host:container[:ro|rw]
	Labels     map[string]string // 容器标签
	NoNetwork  bool              // 禁用网络
	Tty        bool              // 分配 TTY（日志不做 stdout/stderr 多路复用）
}

// Client Docker客户端封装
type Client struct {
	cli *client.Client
}

// NewClient 创建Docker客户端
func NewClient() (*Client, error) {
	cli, err := client.New(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	return c.cli.Close()
}

// Ping 检查Docker连接
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx, client.PingOptions{})
	return err
}

// CreateContainer 创建容器
func (c *Client) CreateContainer(ctx context.Context, cfg *ContainerConfig) (string, error) {
	hostConfig := &container.HostConfig{
		Binds: cfg.Binds,
	}
	if cfg.NoNetwork {
		hostConfig.NetworkMode = container.NetworkMode("none")
	}

	opts := client.ContainerCreateOptions{
		Name:  cfg.Name,
		Image: cfg.Image,
		Config: &container.Config{
			Entrypoint:   cfg.Entrypoint,
			Cmd:          cfg.Cmd,
			Env:          cfg.Env,
			WorkingDir:   cfg.WorkingDir,
			Labels:       cfg.Labels,
			Tty:          cfg.Tty,
			AttachStdout: true,
			AttachStderr: true,
		},
		HostConfig: hostConfig,
	}

	result, err := c.cli.ContainerCreate(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return result.ID, nil
}

// StartContainer 启动容器
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	_, err := c.cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{})
	return err
}

// RemoveContainer 删除容器
func (c *Client) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	_, err := c.cli.ContainerRemove(ctx, containerID, client.ContainerRemoveOptions{
		Force:         force,
		RemoveVolumes: true,
	})
	if err != nil && errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

// WaitContainer 等待容器退出
func (c *Client) WaitContainer(ctx context.Context, containerID string) (int64, error) {
	waitResult := c.cli.ContainerWait(ctx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})

	select {
	case err := <-waitResult.Error:
		if err != nil {
			return -1, err
		}
		return 0, nil
	case resp := <-waitResult.Result:
		if resp.Error != nil && resp.Error.Message != "" {
			return resp.StatusCode, errors.New(resp.Error.Message)
		}
		return resp.StatusCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// ContainerLogs 获取容器日志，调用方负责关闭
func (c *Client) ContainerLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	result, err := c.cli.ContainerLogs(ctx, containerID, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     false,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// jsonMessage 构建/导入接口返回的 JSON 流消息
type jsonMessage struct {
	Stream      string `json:"stream"`
	Status      string `json:"status"`
	Error       string `json:"error"`
	ErrorDetail *struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func (m *jsonMessage) err() string {
	if m.Error != "" {
		return m.Error
	}
	if m.ErrorDetail != nil {
		return m.ErrorDetail.Message
	}
	return ""
}

// readJSONStream 逐条解码 JSON 流，把 stream 字段按行交给 logFn；遇到 error 字段返回错误
func readJSONStream(r io.Reader, logFn func(string)) error {
	dec := json.NewDecoder(r)
	for {
		var msg jsonMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode docker stream: %w", err)
		}
		if e := msg.err(); e != "" {
			return errors.New(e)
		}
		if logFn == nil || msg.Stream == "" {
			continue
		}
		for _, line := range strings.Split(strings.TrimRight(msg.Stream, "\n"), "\n") {
			if line = strings.TrimRight(line, "\r"); line != "" {
				logFn(line)
			}
		}
	}
}

// BuildImage 从 tar 构建上下文构建镜像
func (c *Client) BuildImage(ctx context.Context, tag string, buildContext io.Reader, dockerfile string, logFn func(string)) error {
	result, err := c.cli.ImageBuild(ctx, buildContext, client.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  dockerfile,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build image %s: %w", tag, err)
	}
	defer result.Body.Close()
	return readJSONStream(result.Body, logFn)
}

// ImageExists 检查镜像是否在本地存在
func (c *Client) ImageExists(ctx context.Context, name string) (bool, error) {
	_, err := c.cli.ImageInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SaveImage 导出镜像为 tar 流，调用方负责关闭
func (c *Client) SaveImage(ctx context.Context, name string) (io.ReadCloser, error) {
	result, err := c.cli.ImageSave(ctx, []string{name})
	if err != nil {
		return nil, fmt.Errorf("failed to save image %s: %w", name, err)
	}
	return result, nil
}

// LoadImage 从 tar 流导入镜像
func (c *Client) LoadImage(ctx context.Context, archive io.Reader) error {
	result, err := c.cli.ImageLoad(ctx, archive, client.ImageLoadWithQuiet(true))
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	defer result.Close()
	return readJSONStream(result, nil)
}

// PullImage 从仓库拉取镜像并等待完成
func (c *Client) PullImage(ctx context.Context, name string) error {
	resp, err := c.cli.ImagePull(ctx, name, client.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", name, err)
	}
	defer resp.Close()
	if err := resp.Wait(ctx); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", name, err)
	}
	return nil
}
