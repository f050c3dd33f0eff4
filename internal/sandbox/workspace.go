package sandbox

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// 沙箱内的固定挂载点
const (
	InputMount  = "/input"
	OutputMount = "/output"
)

// WorkspaceManager 阶段工作目录管理器
//
// 每个阶段在 baseDir 下获得独立目录，包含 input/（只读挂载）和 output/（读写挂载），
// 阶段结束后整体删除。
type WorkspaceManager struct {
	baseDir string
}

// NewWorkspaceManager 创建工作目录管理器
func NewWorkspaceManager(baseDir string) *WorkspaceManager {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "codec-bench")
	}
	os.MkdirAll(baseDir, 0755)
	return &WorkspaceManager{baseDir: baseDir}
}

// Workspace 准备好的阶段工作目录
type Workspace struct {
	Root   string
	Input  string
	Output string
}

// Prepare 为 submission 的某个阶段创建工作目录
func (m *WorkspaceManager) Prepare(submissionID, stage string) (*Workspace, error) {
	pattern := fmt.Sprintf("%s-%s-*", sanitize(submissionID), sanitize(stage))
	root, err := os.MkdirTemp(m.baseDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("创建工作目录失败: %w", err)
	}

	ws := &Workspace{
		Root:   root,
		Input:  filepath.Join(root, "input"),
		Output: filepath.Join(root, "output"),
	}
	for _, dir := range []string{ws.Input, ws.Output} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			ws.Cleanup()
			return nil, fmt.Errorf("创建工作目录失败: %w", err)
		}
	}
	// 容器内进程不一定以当前用户运行，输出目录需要对其可写
	if err := os.Chmod(ws.Output, 0777); err != nil {
		ws.Cleanup()
		return nil, fmt.Errorf("设置输出目录权限失败: %w", err)
	}
	return ws, nil
}

// Bindings 返回 input 只读、output 读写的挂载列表
func (w *Workspace) Bindings() []Binding {
	return []Binding{
		{HostPath: w.Input, SandboxPath: InputMount, Mode: ReadOnly},
		{HostPath: w.Output, SandboxPath: OutputMount, Mode: ReadWrite},
	}
}

// InputPath 宿主机上 input 目录中的文件路径
func (w *Workspace) InputPath(name string) string {
	return filepath.Join(w.Input, name)
}

// OutputPath 宿主机上 output 目录中的文件路径
func (w *Workspace) OutputPath(name string) string {
	return filepath.Join(w.Output, name)
}

// Cleanup 删除工作目录
func (w *Workspace) Cleanup() {
	if err := os.RemoveAll(w.Root); err != nil {
		log.Printf("[Workspace] cleanup %s failed: %v", w.Root, err)
	}
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
