package pipeline

import (
	"context"
	"time"

	"codec-bench/internal/artifact"
	"codec-bench/internal/image"
	"codec-bench/internal/results"
	"codec-bench/internal/sandbox"
)

// submissionStages 构造 submission 的全部沙箱阶段
// decode 的输出被 reconstruct 消费后删除，reconstruct 的输出被 search 消费后由 cleanup 删除
type submissionStages struct {
	encode, decode, reconstruct, search *stage
}

func (o *Orchestrator) stagesFor(submissionID string) *submissionStages {
	scope := o.SubmissionScope(submissionID)
	unit := sandbox.Unit{Name: image.UnitName(submissionID)}
	refDeconstruct := o.reference.Sub(StageDeconstruct)

	encodeScope := scope.Sub(StageEncode)
	decodeScope := scope.Sub(StageDecode)
	reconstructScope := scope.Sub(StageReconstruct)

	s := &submissionStages{}

	s.encode = &stage{
		name:    StageEncode,
		owner:   submissionID,
		scope:   encodeScope,
		outputs: []string{o.encodedName()},
		unit:    &unit,
		run: func(ctx context.Context, ws *sandbox.Workspace) ([]metric, error) {
			if _, err := o.deps.Artifacts.Download(ctx, refDeconstruct, o.payloadName(), ws.Input); err != nil {
				return nil, err
			}
			mean, err := o.timed(ctx, StageEncode, o.codecSpec(unit, ws, StageEncode,
				"encode", inputPath(o.payloadName()), outputPath(o.encodedName())))
			if err != nil {
				return nil, err
			}
			return []metric{{results.FieldEncodingRuntime, mean.Seconds()}}, nil
		},
	}

	s.decode = &stage{
		name:      StageDecode,
		owner:     submissionID,
		scope:     decodeScope,
		outputs:   []string{o.payloadName()},
		transient: map[string]bool{o.payloadName(): true},
		unit:      &unit,
		run: func(ctx context.Context, ws *sandbox.Workspace) ([]metric, error) {
			if _, err := o.deps.Artifacts.Download(ctx, encodeScope, o.encodedName(), ws.Input); err != nil {
				return nil, err
			}
			mean, err := o.timed(ctx, StageDecode, o.codecSpec(unit, ws, StageDecode,
				"decode", inputPath(o.encodedName()), outputPath(o.payloadName())))
			if err != nil {
				return nil, err
			}
			original, origErr := o.deps.Artifacts.Size(ctx, refDeconstruct, o.payloadName())
			compressed, compErr := o.deps.Artifacts.Size(ctx, encodeScope, o.encodedName())
			if origErr != nil || compErr != nil {
				o.deps.Logger.WithSubmission(submissionID).Warn("Compression ratio unavailable",
					"original_error", errString(origErr), "compressed_error", errString(compErr))
			}
			return []metric{
				{results.FieldDecodingRuntime, mean.Seconds()},
				{results.FieldRatio, ComputeRatio(original, compressed, origErr, compErr)},
			}, nil
		},
	}

	tools := o.cfg.Tools
	s.reconstruct = &stage{
		name:      StageReconstruct,
		owner:     submissionID,
		scope:     reconstructScope,
		outputs:   []string{ReconstructedName},
		transient: map[string]bool{ReconstructedName: true},
		unit:      &sandbox.Unit{Name: tools.Reconstruct.Image, Trusted: true},
		run: func(ctx context.Context, ws *sandbox.Workspace) ([]metric, error) {
			if _, err := o.deps.Artifacts.Download(ctx, refDeconstruct, o.metaName(), ws.Input); err != nil {
				return nil, err
			}
			if _, err := o.deps.Artifacts.Download(ctx, decodeScope, o.payloadName(), ws.Input); err != nil {
				return nil, err
			}
			spec := toolSpec(tools.Reconstruct, StageReconstruct, ws, map[string]string{
				"meta":       inputPath(o.metaName()),
				"payload":    inputPath(o.payloadName()),
				"output":     outputPath(ReconstructedName),
				"output_dir": sandbox.OutputMount,
				"base":       o.base,
			})
			_, err := o.deps.Sandbox.Run(ctx, spec)
			return nil, err
		},
		consumed: []artifactRef{{scope: decodeScope, name: o.payloadName()}},
	}

	s.search = o.searchStage(submissionID, reconstructScope, ReconstructedName,
		scope.Sub(StageSearch), baseName(ReconstructedName))

	s.decode.consumer = s.reconstruct
	s.reconstruct.consumer = s.search
	return s
}

// codecSpec 用户编解码器的执行描述：<mode> <input> <output>
func (o *Orchestrator) codecSpec(unit sandbox.Unit, ws *sandbox.Workspace, label, mode, in, out string) sandbox.ExecutionSpec {
	return sandbox.ExecutionSpec{
		Unit:     unit,
		Command:  []string{mode, in, out},
		Bindings: ws.Bindings(),
		Network:  o.cfg.CodecNetwork,
		Label:    label,
	}
}

func (o *Orchestrator) timed(ctx context.Context, label string, spec sandbox.ExecutionSpec) (time.Duration, error) {
	mean, err := sandbox.RunTimed(ctx, o.deps.Sandbox, spec, o.cfg.TimedRuns, o.cfg.Clock)
	if err != nil {
		return 0, err
	}
	o.deps.Metrics.RecordTimedRun(label, mean)
	return mean, nil
}

// EncodeDecode 计时执行编码与解码并记录压缩比
func (o *Orchestrator) EncodeDecode(ctx context.Context, submissionID string) ([]Outcome, error) {
	s := o.stagesFor(submissionID)
	return o.sequence(ctx, submissionID,
		o.stageFn(s.encode),
		o.stageFn(s.decode),
	)
}

// PostEncode 重建、鉴定、清理并与基线对比
func (o *Orchestrator) PostEncode(ctx context.Context, submissionID string) ([]Outcome, error) {
	s := o.stagesFor(submissionID)
	return o.sequence(ctx, submissionID,
		o.stageFn(s.reconstruct),
		o.stageFn(s.search),
		func(ctx context.Context) Outcome { return o.cleanup(ctx, submissionID) },
		func(ctx context.Context) Outcome { return o.compare(ctx, submissionID) },
	)
}

// Run 完整执行一个 submission 的全部阶段
func (o *Orchestrator) Run(ctx context.Context, submissionID string) ([]Outcome, error) {
	first, err := o.EncodeDecode(ctx, submissionID)
	if err != nil {
		return first, err
	}
	rest, err := o.PostEncode(ctx, submissionID)
	return append(first, rest...), err
}

// cleanup 删除重建的谱图文件，文件不存在时跳过
func (o *Orchestrator) cleanup(ctx context.Context, submissionID string) Outcome {
	start := time.Now()
	scope := o.SubmissionScope(submissionID).Sub(StageReconstruct)
	if _, err := o.deps.Artifacts.Size(ctx, scope, ReconstructedName); err != nil {
		if artifact.IsNotFound(err) {
			return skipped(StageCleanup)
		}
		return failed(StageCleanup, time.Since(start), err)
	}
	if err := o.deps.Artifacts.Delete(ctx, scope, ReconstructedName); err != nil {
		return failed(StageCleanup, time.Since(start), err)
	}
	return completed(StageCleanup, time.Since(start))
}

// compare 对比基线与往返后的鉴定结果，写入肽段比例和准确率
func (o *Orchestrator) compare(ctx context.Context, submissionID string) Outcome {
	start := time.Now()

	baseline, err := o.readPeptides(ctx, o.reference.Sub(StageSearch), o.base+identificationSuffix)
	if err != nil {
		return failed(StageCompare, time.Since(start), err)
	}
	roundTrip, err := o.readPeptides(ctx, o.SubmissionScope(submissionID).Sub(StageSearch),
		baseName(ReconstructedName)+identificationSuffix)
	if err != nil {
		return failed(StageCompare, time.Since(start), err)
	}

	cmp, err := ComparePeptides(baseline, roundTrip)
	if err != nil {
		return failed(StageCompare, time.Since(start), err)
	}

	for _, m := range []metric{
		{results.FieldPeptidePreserved, cmp.Preserved},
		{results.FieldPeptideMissed, cmp.Missed},
		{results.FieldPeptideNew, cmp.Added},
		{results.FieldAccuracy, cmp.Preserved},
	} {
		if err := o.deps.Results.SetMetric(ctx, submissionID, m.field, m.value); err != nil {
			return failed(StageCompare, time.Since(start), err)
		}
	}
	return completed(StageCompare, time.Since(start))
}

func (o *Orchestrator) readPeptides(ctx context.Context, scope artifact.Scope, name string) (map[string]struct{}, error) {
	rc, _, err := o.deps.Artifacts.Open(ctx, scope, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return ParsePeptides(rc)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
