package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MarkerName 阶段完成标记的对象名
const MarkerName = "_SUCCESS"

// Manifest 阶段完成清单，在阶段全部输出写入后最后写入
type Manifest struct {
	Stage     string         `json:"stage"`
	WrittenAt time.Time      `json:"written_at"`
	Files     []ManifestFile `json:"files"`
}

// ManifestFile 清单中的单个输出文件
type ManifestFile struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256,omitempty"`
}

// File 按名称查找清单中的文件
func (m *Manifest) File(name string) (ManifestFile, bool) {
	for _, f := range m.Files {
		if f.Name == name {
			return f, true
		}
	}
	return ManifestFile{}, false
}

// WriteManifest 写入完成标记
func (s *Store) WriteManifest(ctx context.Context, scope Scope, m Manifest) error {
	if m.WrittenAt.IsZero() {
		m.WrittenAt = time.Now().UTC()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return s.Put(ctx, scope, MarkerName, data, "application/json")
}

// ReadManifest 读取完成标记，不存在时返回 (nil, nil)
func (s *Store) ReadManifest(ctx context.Context, scope Scope) (*Manifest, error) {
	data, err := s.Get(ctx, scope, MarkerName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", scope, err)
	}
	return &m, nil
}

// IsDone 完成标记存在，且 required 中每个对象名仍然存在时返回 true
// 被下游消费后删除的临时输出不应出现在 required 中
func (s *Store) IsDone(ctx context.Context, scope Scope, required []string) (bool, error) {
	m, err := s.ReadManifest(ctx, scope)
	if err != nil || m == nil {
		return false, err
	}
	if len(required) == 0 {
		return true, nil
	}
	names, err := s.List(ctx, scope)
	if err != nil {
		return false, err
	}
	present := make(map[string]struct{}, len(names))
	for _, n := range names {
		present[n] = struct{}{}
	}
	for _, r := range required {
		if _, ok := present[r]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// ClearManifest 删除完成标记，使阶段在下次调用时重新执行
func (s *Store) ClearManifest(ctx context.Context, scope Scope) error {
	return s.Delete(ctx, scope, MarkerName)
}
