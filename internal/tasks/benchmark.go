package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"codec-bench/internal/pipeline"
	"codec-bench/internal/results"
	"codec-bench/pkg/logging"
)

// Pipeline 任务需要的流水线入口
type Pipeline interface {
	PrepareReference(ctx context.Context) ([]pipeline.Outcome, error)
	EncodeDecode(ctx context.Context, submissionID string) ([]pipeline.Outcome, error)
	PostEncode(ctx context.Context, submissionID string) ([]pipeline.Outcome, error)
}

// Benchmarks 基准任务处理器
type Benchmarks struct {
	pipeline Pipeline
	results  results.Store
	client   *Client
	logger   *logging.Logger
}

// RegisterBenchmarks 在 Worker 上注册全部 benchmark.* 任务
func RegisterBenchmarks(w *Worker, p Pipeline, rs results.Store, client *Client, logger *logging.Logger) *Benchmarks {
	if logger == nil {
		logger = logging.Default("tasks")
	}
	b := &Benchmarks{pipeline: p, results: rs, client: client, logger: logger}
	w.Register(TaskPrepare, b.prepare)
	w.Register(TaskSchedule, b.schedule)
	w.Register(TaskEncodeDecode, b.encodeDecode)
	w.Register(TaskPostEncode, b.postEncode)
	w.Register(TaskFail, b.fail)
	return b
}

func (b *Benchmarks) prepare(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	outcomes, err := b.pipeline.PrepareReference(ctx)
	if err != nil {
		return nil, err
	}
	return summarize(outcomes)
}

func (b *Benchmarks) schedule(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args BenchmarkArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	id, err := b.client.ScheduleBenchmark(ctx, args.SubmissionID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"chain_task_id": id})
}

// encodeDecode 在 timed 队列上运行，返回参数原样交给 post_encode
func (b *Benchmarks) encodeDecode(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args BenchmarkArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if _, err := b.pipeline.EncodeDecode(ctx, args.SubmissionID); err != nil {
		return nil, err
	}
	return raw, nil
}

func (b *Benchmarks) postEncode(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args BenchmarkArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	outcomes, err := b.pipeline.PostEncode(ctx, args.SubmissionID)
	if err != nil {
		return nil, err
	}
	if err := b.results.Transition(ctx, args.SubmissionID, results.StatusSuccess, ""); err != nil {
		return nil, err
	}
	b.logger.WithSubmission(args.SubmissionID).Info("Benchmark finished")
	return summarize(outcomes)
}

// fail 链条中任一环节失败时执行：状态置为 failed 并保存错误信息
func (b *Benchmarks) fail(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var info ErrorInfo
	if err := decodeArgs(raw, &info); err != nil {
		return nil, err
	}
	var args BenchmarkArgs
	if err := decodeArgs(info.Args, &args); err != nil {
		return nil, fmt.Errorf("failed task %s: %w", info.Task, err)
	}

	b.logger.WithSubmission(args.SubmissionID).Error("Benchmark failed", "task", info.Task, "error", info.Error)
	if err := b.results.Transition(ctx, args.SubmissionID, results.StatusFailed, info.Error); err != nil {
		return nil, err
	}
	return nil, nil
}

// stageSummary 任务结果中记录的阶段摘要
type stageSummary struct {
	Stage      string  `json:"stage"`
	Kind       string  `json:"kind"`
	DurationMS float64 `json:"duration_ms"`
}

func summarize(outcomes []pipeline.Outcome) (json.RawMessage, error) {
	out := make([]stageSummary, len(outcomes))
	for i, o := range outcomes {
		out[i] = stageSummary{Stage: o.Stage, Kind: o.Kind.String(), DurationMS: float64(o.Duration.Milliseconds())}
	}
	return json.Marshal(out)
}
