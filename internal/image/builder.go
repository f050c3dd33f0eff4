// Package image 执行单元的构建与分发
//
// Builder 把上传的 zip 压缩包中 transform/ 目录构建为可执行单元；
// Distributor 把本地单元发布为对象存储中的归档，并在其他 Worker 上按需物化。
package image

import (
	"bytes"
	"context"
	"fmt"
	"log"

	"codec-bench/internal/artifact"
	"codec-bench/internal/sandbox"
)

// UnitName 返回 submission 对应的单元名
func UnitName(submissionID string) string {
	return fmt.Sprintf("transform-%s:latest", submissionID)
}

// UploadName 返回上传压缩包在 upload 作用域中的对象名
func UploadName(submissionID string) string {
	return submissionID + ".zip"
}

// BuilderConfig 构建配置
type BuilderConfig struct {
	Prefix  string
	Exclude []string
}

// Builder 镜像构建器
type Builder struct {
	runtime sandbox.UnitRuntime
	store   *artifact.Store
	uploads artifact.Scope
	prefix  string
	exclude []string
}

// NewBuilder 创建构建器
func NewBuilder(runtime sandbox.UnitRuntime, store *artifact.Store, uploads artifact.Scope, cfg BuilderConfig) *Builder {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Exclude == nil {
		cfg.Exclude = DefaultExcludes
	}
	return &Builder{
		runtime: runtime,
		store:   store,
		uploads: uploads,
		prefix:  cfg.Prefix,
		exclude: cfg.Exclude,
	}
}

// Build 校验压缩包并构建单元，构建日志逐行交给 logFn
func (b *Builder) Build(ctx context.Context, submissionID string, archive []byte, logFn func(string)) (sandbox.Unit, error) {
	entries, err := ExtractPrefixed(archive, b.prefix, b.exclude)
	if err != nil {
		return sandbox.Unit{}, err
	}
	buildContext, err := BuildContext(entries)
	if err != nil {
		return sandbox.Unit{}, err
	}

	unit := sandbox.Unit{Name: UnitName(submissionID)}
	log.Printf("[Builder] building %s from %d files", unit.Name, len(entries))
	if err := b.runtime.Build(ctx, unit.Name, bytes.NewReader(buildContext), logFn); err != nil {
		return sandbox.Unit{}, &sandbox.ExecutionError{Unit: unit.Name, ExitCode: 1, Log: err.Error()}
	}
	return unit, nil
}

// BuildFromUpload 从 upload 作用域读取压缩包后构建
func (b *Builder) BuildFromUpload(ctx context.Context, submissionID string, logFn func(string)) (sandbox.Unit, error) {
	archive, err := b.store.Get(ctx, b.uploads, UploadName(submissionID))
	if err != nil {
		return sandbox.Unit{}, err
	}
	return b.Build(ctx, submissionID, archive, logFn)
}

// Validate 只做压缩包校验，不调用运行时
func (b *Builder) Validate(archive []byte) error {
	_, err := ExtractPrefixed(archive, b.prefix, b.exclude)
	return err
}
