package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"codec-bench/internal/artifact"
	"codec-bench/internal/config"
	"codec-bench/internal/results"
	"codec-bench/internal/sandbox"
)

// metric 阶段产生的数值结果
type metric struct {
	field results.Field
	value float64
}

// stage 一个可跳过的流水线阶段
//
// outputs 是阶段写入 scope 的文件；transient 中的输出会被 consumer 阶段消费后删除，
// consumer 完成后不再作为本阶段完成的条件。
type stage struct {
	name      string
	owner     string
	scope     artifact.Scope
	outputs   []string
	transient map[string]bool
	consumer  *stage
	// unit 执行前需要物化的单元，可为空
	unit *sandbox.Unit
	// run 在工作目录中执行阶段，输出写入 ws.Output
	run func(ctx context.Context, ws *sandbox.Workspace) ([]metric, error)
	// consumed 标记写入后删除的上游临时输出
	consumed []artifactRef
}

type artifactRef struct {
	scope artifact.Scope
	name  string
}

// done 判断阶段产物是否完整
func (o *Orchestrator) done(ctx context.Context, st *stage) (bool, error) {
	required := make([]string, 0, len(st.outputs))
	consumerDone := false
	if st.consumer != nil && len(st.transient) > 0 {
		var err error
		if consumerDone, err = o.done(ctx, st.consumer); err != nil {
			return false, err
		}
	}
	for _, name := range st.outputs {
		if st.transient[name] && consumerDone {
			continue
		}
		required = append(required, name)
	}

	if o.cfg.Idempotency == config.IdempotencyListing {
		return o.deps.Artifacts.Exists(ctx, st.scope, required)
	}
	return o.deps.Artifacts.IsDone(ctx, st.scope, required)
}

// runStage 执行单个阶段：检查 → 物化单元 → 执行 → 上传输出 → 写指标 → 写完成标记
func (o *Orchestrator) runStage(ctx context.Context, st *stage) Outcome {
	start := time.Now()

	done, err := o.done(ctx, st)
	if err != nil {
		return failed(st.name, time.Since(start), err)
	}
	if done {
		return skipped(st.name)
	}

	if st.unit != nil && o.deps.Units != nil {
		if err := o.deps.Units.Materialize(ctx, *st.unit); err != nil {
			return failed(st.name, time.Since(start), err)
		}
	}

	ws, err := o.deps.Workspaces.Prepare(st.owner, st.name)
	if err != nil {
		return failed(st.name, time.Since(start), err)
	}
	defer ws.Cleanup()

	produced, err := st.run(ctx, ws)
	if err != nil {
		return failed(st.name, time.Since(start), err)
	}

	files := make([]artifact.ManifestFile, 0, len(st.outputs))
	for _, name := range st.outputs {
		f, err := o.deps.Artifacts.Upload(ctx, st.scope, name, ws.OutputPath(name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				err = &sandbox.ExecutionError{Unit: unitName(st), Log: fmt.Sprintf("expected output %s was not produced", name)}
			}
			return failed(st.name, time.Since(start), err)
		}
		files = append(files, f)
	}

	for _, m := range produced {
		if err := o.deps.Results.SetMetric(ctx, st.owner, m.field, m.value); err != nil {
			return failed(st.name, time.Since(start), err)
		}
	}

	if err := o.deps.Artifacts.WriteManifest(ctx, st.scope, artifact.Manifest{Stage: st.name, Files: files}); err != nil {
		return failed(st.name, time.Since(start), err)
	}

	for _, ref := range st.consumed {
		if err := o.deps.Artifacts.Delete(ctx, ref.scope, ref.name); err != nil {
			o.deps.Logger.WithStage(st.name).WithError(err).Warn("Failed to delete consumed artifact",
				"scope", ref.scope.String(), "name", ref.name)
		}
	}
	return completed(st.name, time.Since(start))
}

func unitName(st *stage) string {
	if st.unit == nil {
		return st.name
	}
	return st.unit.Name
}

// sequence 顺序执行阶段，遇到失败立即停止
func (o *Orchestrator) sequence(ctx context.Context, owner string, stages ...func(context.Context) Outcome) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(stages))
	for _, run := range stages {
		if err := ctx.Err(); err != nil {
			out := Outcome{Stage: "-", Kind: KindCanceled, Err: err}
			return append(outcomes, out), &StageError{Outcome: out}
		}
		out := run(ctx)
		outcomes = append(outcomes, out)
		o.deps.Logger.StageLog(out.Stage, owner, out.Skipped(), out.Duration, out.Err)
		o.deps.Metrics.RecordStage(out.Stage, out.Kind.String(), out.Duration)
		if !out.OK() {
			return outcomes, &StageError{Outcome: out}
		}
	}
	return outcomes, nil
}

func (o *Orchestrator) stageFn(st *stage) func(context.Context) Outcome {
	return func(ctx context.Context) Outcome { return o.runStage(ctx, st) }
}

// toolSpec 展开可信工具的命令模板
func toolSpec(tool config.ToolConfig, label string, ws *sandbox.Workspace, vars map[string]string) sandbox.ExecutionSpec {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	cmd := make([]string, len(tool.Command))
	for i, arg := range tool.Command {
		cmd[i] = r.Replace(arg)
	}
	return sandbox.ExecutionSpec{
		Unit:     sandbox.Unit{Name: tool.Image, Trusted: true},
		Command:  cmd,
		Bindings: ws.Bindings(),
		Label:    label,
	}
}

func inputPath(name string) string  { return sandbox.InputMount + "/" + name }
func outputPath(name string) string { return sandbox.OutputMount + "/" + name }
