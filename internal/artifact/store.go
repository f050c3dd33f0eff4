// Package artifact 运行产物存储
//
// 在对象存储之上提供按作用域（bucket + 前缀）组织的产物读写。
// 阶段是否已完成由产物的存在性判定：Exists 按后缀检查列举结果，
// IsDone 额外要求阶段完成标记（_SUCCESS 清单）已写入。
package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ObjectStore 对象存储后端
// 实现：objstore.Client（MinIO）、MemoryStore（测试/单进程）
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
	Stat(ctx context.Context, bucket, key string) (int64, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Delete(ctx context.Context, bucket, key string) error
}

// Store 产物存储
type Store struct {
	backend ObjectStore
}

// NewStore 创建产物存储
func NewStore(backend ObjectStore) *Store {
	return &Store{backend: backend}
}

// Put 写入小对象
func (s *Store) Put(ctx context.Context, scope Scope, name string, data []byte, contentType string) error {
	err := s.backend.Put(ctx, scope.Bucket, scope.Key(name), bytes.NewReader(data), int64(len(data)), contentType)
	return storageErr("put", scope, name, err)
}

// PutStream 流式写入，size 未知时传 -1
func (s *Store) PutStream(ctx context.Context, scope Scope, name string, r io.Reader, size int64, contentType string) error {
	err := s.backend.Put(ctx, scope.Bucket, scope.Key(name), r, size, contentType)
	return storageErr("put", scope, name, err)
}

// Get 读取完整对象
func (s *Store) Get(ctx context.Context, scope Scope, name string) ([]byte, error) {
	rc, _, err := s.Open(ctx, scope, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, storageErr("read", scope, name, err)
	}
	return data, nil
}

// Open 打开对象流，调用方负责关闭
func (s *Store) Open(ctx context.Context, scope Scope, name string) (io.ReadCloser, int64, error) {
	rc, size, err := s.backend.Get(ctx, scope.Bucket, scope.Key(name))
	if err != nil {
		return nil, 0, storageErr("get", scope, name, err)
	}
	return rc, size, nil
}

// Size 返回对象字节数
func (s *Store) Size(ctx context.Context, scope Scope, name string) (int64, error) {
	size, err := s.backend.Stat(ctx, scope.Bucket, scope.Key(name))
	if err != nil {
		return 0, storageErr("stat", scope, name, err)
	}
	return size, nil
}

// List 列出作用域下的对象名（相对作用域前缀）
func (s *Store) List(ctx context.Context, scope Scope) ([]string, error) {
	prefix := scope.listPrefix()
	keys, err := s.backend.List(ctx, scope.Bucket, prefix)
	if err != nil {
		return nil, storageErr("list", scope, "", err)
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, prefix))
	}
	return names, nil
}

// Exists 当作用域下每个后缀都至少有一个对象名匹配时返回 true
// 只检查存在性，不校验内容
func (s *Store) Exists(ctx context.Context, scope Scope, requiredSuffixes []string) (bool, error) {
	names, err := s.List(ctx, scope)
	if err != nil {
		return false, err
	}
	return hasAllSuffixes(names, requiredSuffixes), nil
}

func hasAllSuffixes(names, suffixes []string) bool {
	for _, suffix := range suffixes {
		found := false
		for _, name := range names {
			if strings.HasSuffix(name, suffix) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Delete 删除对象
func (s *Store) Delete(ctx context.Context, scope Scope, name string) error {
	return storageErr("delete", scope, name, s.backend.Delete(ctx, scope.Bucket, scope.Key(name)))
}

// Download 将对象下载到 dir/name，返回本地路径
func (s *Store) Download(ctx context.Context, scope Scope, name, dir string) (string, error) {
	rc, _, err := s.Open(ctx, scope, name)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	local := filepath.Join(dir, filepath.Base(name))
	f, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", local, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return "", storageErr("download", scope, name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", local, err)
	}
	return local, nil
}

// Upload 上传本地文件为 scope/name，返回写入清单所需的文件摘要
func (s *Store) Upload(ctx context.Context, scope Scope, name, localPath string) (ManifestFile, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return ManifestFile{}, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return ManifestFile{}, fmt.Errorf("stat %s: %w", localPath, err)
	}

	h := sha256.New()
	if err := s.PutStream(ctx, scope, name, io.TeeReader(f, h), info.Size(), ""); err != nil {
		return ManifestFile{}, err
	}
	return ManifestFile{Name: name, Size: info.Size(), SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}
