package image

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// DefaultPrefix 压缩包中构建上下文所在目录
const DefaultPrefix = "transform/"

// DefaultExcludes 不进入构建上下文的目录名
var DefaultExcludes = []string{"__pycache__", ".git", ".venv", "node_modules", "__MACOSX"}

// Entry 构建上下文中的一个文件
type Entry struct {
	Name string
	Mode int64
	Data []byte
}

// ExtractPrefixed 从 zip 中取出 prefix 下的文件，去掉 prefix
// 目录项和任一路径段命中 exclude 的文件被跳过；没有任何条目以 prefix 开头时返回 ValidationError
func ExtractPrefixed(archive []byte, prefix string, exclude []string) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, validationErr("not a zip archive: %v", err)
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		excluded[e] = struct{}{}
	}

	matched := false
	var entries []Entry
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		matched = true

		rel := strings.TrimPrefix(f.Name, prefix)
		if rel == "" || f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		if hasExcludedSegment(rel, excluded) {
			continue
		}
		if path.IsAbs(rel) || containsDotDot(rel) {
			return nil, validationErr("illegal path %q", f.Name)
		}

		data, err := readZipFile(f)
		if err != nil {
			return nil, validationErr("read %s: %v", f.Name, err)
		}
		mode := int64(f.Mode().Perm())
		if mode == 0 {
			mode = 0644
		}
		entries = append(entries, Entry{Name: rel, Mode: mode, Data: data})
	}

	if !matched {
		return nil, validationErr("archive must contain a %q directory", strings.TrimSuffix(prefix, "/"))
	}
	return entries, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func hasExcludedSegment(rel string, excluded map[string]struct{}) bool {
	for _, seg := range strings.Split(rel, "/") {
		if _, ok := excluded[seg]; ok {
			return true
		}
	}
	return false
}

func containsDotDot(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// BuildContext 将文件写成 tar 构建上下文
func BuildContext(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	modTime := time.Unix(0, 0)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:    e.Name,
			Mode:    e.Mode,
			Size:    int64(len(e.Data)),
			ModTime: modTime,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("write tar header %s: %w", e.Name, err)
		}
		if _, err := tw.Write(e.Data); err != nil {
			return nil, fmt.Errorf("write tar entry %s: %w", e.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return buf.Bytes(), nil
}
