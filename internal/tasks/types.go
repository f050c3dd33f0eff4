// Package tasks 异步任务调度
//
// 任务以 Signature 描述，经 queue.Broker 投递到 default / timed 队列。
// Chain 只投递第一个环节，后续环节随消息携带：任务成功后 Worker 投递下一环节，
// 失败时链条中止并投递 ErrorLink。任务状态按任务 ID 写入缓存供查询。
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// 队列
const (
	QueueDefault = "default"
	QueueTimed   = "timed"
)

// 任务名
const (
	TaskPrepare      = "benchmark.prepare"
	TaskSchedule     = "benchmark.schedule"
	TaskEncodeDecode = "benchmark.encode_decode"
	TaskPostEncode   = "benchmark.post_encode"
	TaskFail         = "benchmark.fail"
)

// 任务状态
const (
	StatePending = "PENDING"
	StateStarted = "STARTED"
	StateSuccess = "SUCCESS"
	StateFailure = "FAILURE"
)

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrBadArgs     = errors.New("invalid task arguments")
)

// Signature 一次任务调用
type Signature struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Queue string          `json:"queue"`
	Args  json.RawMessage `json:"args,omitempty"`
	// Chain 本任务成功后依次执行的剩余环节
	Chain []*Signature `json:"chain,omitempty"`
	// ErrorLink 本任务失败时投递的任务，参数为 ErrorInfo
	ErrorLink *Signature `json:"error_link,omitempty"`
}

// NewSignature 创建任务调用，args 编码为 JSON
func NewSignature(name, queue string, args any) (*Signature, error) {
	sig := &Signature{ID: uuid.NewString(), Name: name, Queue: queue}
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode args for %s: %w", name, err)
		}
		sig.Args = data
	}
	return sig, nil
}

// BenchmarkArgs 以 submission 为单位的任务参数
type BenchmarkArgs struct {
	SubmissionID string `json:"submission_id"`
}

// ErrorInfo 传给错误环节的失败信息
type ErrorInfo struct {
	TaskID string          `json:"task_id"`
	Task   string          `json:"task"`
	Error  string          `json:"error"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// decodeArgs 解码任务参数
func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty", ErrBadArgs)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	return nil
}
