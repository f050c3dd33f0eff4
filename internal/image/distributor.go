package image

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"codec-bench/internal/artifact"
	"codec-bench/internal/sandbox"
)

// Distributor 单元发布与物化
type Distributor struct {
	runtime sandbox.UnitRuntime
	store   *artifact.Store
	scope   artifact.Scope
}

// NewDistributor 创建分发器，scope 为发布单元所在的作用域
func NewDistributor(runtime sandbox.UnitRuntime, store *artifact.Store, scope artifact.Scope) *Distributor {
	return &Distributor{runtime: runtime, store: store, scope: scope}
}

// ArchiveName 返回单元归档在发布作用域中的对象名
func ArchiveName(unit sandbox.Unit) string {
	return strings.ReplaceAll(unit.Name, "/", "_") + ".tar"
}

// Publish 导出本地单元并写入发布作用域
func (d *Distributor) Publish(ctx context.Context, unit sandbox.Unit) error {
	rc, err := d.runtime.Export(ctx, unit.Name)
	if err != nil {
		return fmt.Errorf("export %s: %w", unit.Name, err)
	}
	defer rc.Close()

	if err := d.store.PutStream(ctx, d.scope, ArchiveName(unit), rc, -1, "application/x-tar"); err != nil {
		return err
	}
	log.Printf("[Distributor] published %s to %s", unit.Name, d.scope.Key(ArchiveName(unit)))
	return nil
}

// Materialize 保证单元在本地可用
// 顺序：本地已存在 → 从发布归档导入 → 可信单元从公共仓库拉取 → ErrImageNotAvailable
func (d *Distributor) Materialize(ctx context.Context, unit sandbox.Unit) error {
	exists, err := d.runtime.Exists(ctx, unit.Name)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", unit.Name, err)
	}
	if exists {
		return nil
	}

	rc, _, err := d.store.Open(ctx, d.scope, ArchiveName(unit))
	switch {
	case err == nil:
		defer rc.Close()
		if err := d.runtime.Import(ctx, rc); err != nil {
			return fmt.Errorf("import %s: %w", unit.Name, err)
		}
		log.Printf("[Distributor] loaded %s from %s", unit.Name, d.scope)
		return nil
	case !errors.Is(err, artifact.ErrNotFound):
		return err
	}

	if !unit.Trusted {
		return fmt.Errorf("%w: %s", ErrImageNotAvailable, unit.Name)
	}
	if err := d.runtime.Pull(ctx, unit.Name); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrImageNotAvailable, unit.Name, err)
	}
	log.Printf("[Distributor] pulled %s", unit.Name)
	return nil
}
