package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"codec-bench/internal/artifact"
	"codec-bench/internal/sandbox"
)

// ErrNoReferenceURL 参考数据不存在且未配置下载地址
var ErrNoReferenceURL = errors.New("reference dataset missing and no download URL configured")

func (o *Orchestrator) referenceStages() (deconstruct, search *stage) {
	ref := o.cfg.Reference.Name
	tools := o.cfg.Tools

	deconstruct = &stage{
		name:    StageDeconstruct,
		owner:   ReferencePrefix,
		scope:   o.reference.Sub(StageDeconstruct),
		outputs: []string{o.payloadName(), o.metaName()},
		unit:    &sandbox.Unit{Name: tools.Deconstruct.Image, Trusted: true},
		run: func(ctx context.Context, ws *sandbox.Workspace) ([]metric, error) {
			if _, err := o.deps.Artifacts.Download(ctx, o.reference, ref, ws.Input); err != nil {
				return nil, err
			}
			spec := toolSpec(tools.Deconstruct, StageDeconstruct, ws, map[string]string{
				"input":      inputPath(ref),
				"output_dir": sandbox.OutputMount,
				"base":       o.base,
			})
			_, err := o.deps.Sandbox.Run(ctx, spec)
			return nil, err
		},
	}

	search = o.searchStage(ReferencePrefix, o.reference, ref, o.reference.Sub(StageSearch), o.base)
	return deconstruct, search
}

// searchStage 对 source 作用域中的 input 文件执行鉴定
func (o *Orchestrator) searchStage(owner string, source artifact.Scope, input string, out artifact.Scope, base string) *stage {
	tool := o.cfg.Tools.Search
	return &stage{
		name:    StageSearch,
		owner:   owner,
		scope:   out,
		outputs: searchOutputs(base, o.cfg.SearchSuffixes),
		unit:    &sandbox.Unit{Name: tool.Image, Trusted: true},
		run: func(ctx context.Context, ws *sandbox.Workspace) ([]metric, error) {
			if _, err := o.deps.Artifacts.Download(ctx, source, input, ws.Input); err != nil {
				return nil, err
			}
			spec := toolSpec(tool, StageSearch, ws, map[string]string{
				"input":      inputPath(input),
				"output_dir": sandbox.OutputMount,
				"base":       base,
			})
			_, err := o.deps.Sandbox.Run(ctx, spec)
			return nil, err
		},
	}
}

// PrepareReference 准备参考数据：下载、拆分、基线鉴定
func (o *Orchestrator) PrepareReference(ctx context.Context) ([]Outcome, error) {
	deconstruct, search := o.referenceStages()
	return o.sequence(ctx, ReferencePrefix,
		o.download,
		o.stageFn(deconstruct),
		o.stageFn(search),
	)
}

// download 参考数据已存在时跳过，否则从配置的 URL 流式写入对象存储
func (o *Orchestrator) download(ctx context.Context) Outcome {
	start := time.Now()
	name := o.cfg.Reference.Name

	if _, err := o.deps.Artifacts.Size(ctx, o.reference, name); err == nil {
		return skipped(StageDownload)
	} else if !artifact.IsNotFound(err) {
		return failed(StageDownload, time.Since(start), err)
	}

	if o.cfg.Reference.URL == "" {
		return failed(StageDownload, time.Since(start), ErrNoReferenceURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.Reference.URL, nil)
	if err != nil {
		return failed(StageDownload, time.Since(start), fmt.Errorf("build request: %w", err))
	}
	resp, err := o.deps.HTTPClient.Do(req)
	if err != nil {
		return failed(StageDownload, time.Since(start), fmt.Errorf("download %s: %w", o.cfg.Reference.URL, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return failed(StageDownload, time.Since(start), fmt.Errorf("download %s: unexpected status %s", o.cfg.Reference.URL, resp.Status))
	}

	o.deps.Logger.Info("Downloading reference dataset", "url", o.cfg.Reference.URL, "size", resp.ContentLength)
	contentType := resp.Header.Get("Content-Type")
	if err := o.deps.Artifacts.PutStream(ctx, o.reference, name, resp.Body, resp.ContentLength, contentType); err != nil {
		return failed(StageDownload, time.Since(start), err)
	}
	return completed(StageDownload, time.Since(start))
}
