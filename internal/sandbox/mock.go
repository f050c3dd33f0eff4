package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MockSandbox 测试用沙箱：记录每次执行，由 Handler 决定结果
type MockSandbox struct {
	mu      sync.Mutex
	specs   []ExecutionSpec
	Handler func(spec ExecutionSpec) (*RunResult, error)
}

var _ Sandbox = (*MockSandbox)(nil)

func (m *MockSandbox) Run(ctx context.Context, spec ExecutionSpec) (*RunResult, error) {
	m.mu.Lock()
	m.specs = append(m.specs, spec)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Handler == nil {
		return &RunResult{}, nil
	}
	return m.Handler(spec)
}

// Runs 返回执行次数
func (m *MockSandbox) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.specs)
}

// Specs 返回执行记录的副本
func (m *MockSandbox) Specs() []ExecutionSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecutionSpec(nil), m.specs...)
}

// Reset 清空执行记录
func (m *MockSandbox) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs = nil
}

// MockRuntime 测试用单元运行时：单元以内存字节表示
type MockRuntime struct {
	mu       sync.Mutex
	local    map[string][]byte
	public   map[string][]byte
	BuildLog []string
	BuildErr error
	Builds   int
	Pulls    int
	Imports  int
}

var _ UnitRuntime = (*MockRuntime)(nil)

// NewMockRuntime 创建 MockRuntime，public 为可拉取的公共单元
func NewMockRuntime(public ...string) *MockRuntime {
	m := &MockRuntime{local: map[string][]byte{}, public: map[string][]byte{}}
	for _, name := range public {
		m.public[name] = []byte("image:" + name)
	}
	return m
}

func (m *MockRuntime) Build(_ context.Context, tag string, buildContext io.Reader, logFn func(string)) error {
	data, err := io.ReadAll(buildContext)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.Builds++
	m.mu.Unlock()
	for _, line := range m.BuildLog {
		if logFn != nil {
			logFn(line)
		}
	}
	if m.BuildErr != nil {
		return m.BuildErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local[tag] = append([]byte(tag+"\n"), data...)
	return nil
}

func (m *MockRuntime) Exists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.local[name]
	return ok, nil
}

func (m *MockRuntime) Export(_ context.Context, name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.local[name]
	if !ok {
		return nil, fmt.Errorf("unit %s not found", name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Import 归档首行是单元名
func (m *MockRuntime) Import(_ context.Context, archive io.Reader) error {
	data, err := io.ReadAll(archive)
	if err != nil {
		return err
	}
	name, _, ok := bytes.Cut(data, []byte("\n"))
	if !ok {
		return fmt.Errorf("invalid archive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local[string(name)] = data
	m.Imports++
	return nil
}

func (m *MockRuntime) Pull(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.public[name]
	if !ok {
		return fmt.Errorf("pull access denied for %s", name)
	}
	m.local[name] = data
	m.Pulls++
	return nil
}

// Forget 从本地删除单元（模拟另一台 Worker 上没有该单元）
func (m *MockRuntime) Forget(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.local, name)
}
