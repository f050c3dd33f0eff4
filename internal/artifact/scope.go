package artifact

import (
	"path"
	"strings"
)

// Scope 产物命名空间：bucket + key 前缀
// 不同 submission 的产物落在不同前缀下，互不冲突
type Scope struct {
	Bucket string
	Prefix string
}

// NewScope 创建作用域，前缀首尾的 "/" 会被规范化
func NewScope(bucket string, prefix ...string) Scope {
	return Scope{Bucket: bucket, Prefix: cleanPrefix(path.Join(prefix...))}
}

// Sub 返回子作用域
func (s Scope) Sub(elem ...string) Scope {
	return Scope{Bucket: s.Bucket, Prefix: cleanPrefix(path.Join(append([]string{s.Prefix}, elem...)...))}
}

// Key 返回 name 在 bucket 中的完整 key
func (s Scope) Key(name string) string {
	if s.Prefix == "" {
		return name
	}
	return s.Prefix + "/" + name
}

// listPrefix 列举时使用的前缀，保证 "init" 不会匹配到 "init2/..."
func (s Scope) listPrefix() string {
	if s.Prefix == "" {
		return ""
	}
	return s.Prefix + "/"
}

func (s Scope) String() string {
	if s.Prefix == "" {
		return s.Bucket
	}
	return s.Bucket + "/" + s.Prefix
}

func cleanPrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "." {
		return ""
	}
	return p
}
