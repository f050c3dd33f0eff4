package pipeline

import (
	"context"
	"errors"
	"time"

	"codec-bench/internal/artifact"
	"codec-bench/internal/image"
	"codec-bench/internal/results"
	"codec-bench/internal/sandbox"
)

// Kind 阶段结果类别
type Kind int

const (
	KindCompleted Kind = iota
	KindSkipped
	KindValidation
	KindExecution
	KindImageNotAvailable
	KindStorage
	KindResultStore
	KindCanceled
	KindInternal
)

var kindNames = map[Kind]string{
	KindCompleted:         "completed",
	KindSkipped:           "skipped",
	KindValidation:        "validation_error",
	KindExecution:         "execution_error",
	KindImageNotAvailable: "image_not_available",
	KindStorage:           "storage_error",
	KindResultStore:       "result_store_error",
	KindCanceled:          "canceled",
	KindInternal:          "internal_error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Outcome 单个阶段的结果
type Outcome struct {
	Stage    string
	Kind     Kind
	Duration time.Duration
	Err      error
}

// OK 阶段成功完成或因产物已存在而跳过
func (o Outcome) OK() bool {
	return o.Kind == KindCompleted || o.Kind == KindSkipped
}

// Skipped 阶段是否因已完成而跳过
func (o Outcome) Skipped() bool {
	return o.Kind == KindSkipped
}

func completed(stage string, d time.Duration) Outcome {
	return Outcome{Stage: stage, Kind: KindCompleted, Duration: d}
}

func skipped(stage string) Outcome {
	return Outcome{Stage: stage, Kind: KindSkipped}
}

// failed 按错误类型打标签
func failed(stage string, d time.Duration, err error) Outcome {
	return Outcome{Stage: stage, Kind: classify(err), Duration: d, Err: err}
}

func classify(err error) Kind {
	switch {
	case err == nil:
		return KindCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, image.ErrValidation):
		return KindValidation
	case errors.Is(err, image.ErrImageNotAvailable):
		return KindImageNotAvailable
	case errors.Is(err, sandbox.ErrExecution):
		return KindExecution
	case errors.Is(err, results.ErrResultStore):
		return KindResultStore
	case errors.Is(err, artifact.ErrStorage), errors.Is(err, artifact.ErrNotFound):
		return KindStorage
	default:
		return KindInternal
	}
}

// StageError 阶段失败时返回给调用方的错误
type StageError struct {
	Outcome Outcome
}

func (e *StageError) Error() string {
	return "stage " + e.Outcome.Stage + " " + e.Outcome.Kind.String() + ": " + e.Outcome.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Outcome.Err
}
