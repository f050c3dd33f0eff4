package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codec-bench/internal/results"
	"codec-bench/internal/shared/cache"
	"codec-bench/internal/shared/queue"
	"codec-bench/pkg/logging"
)

// Client 任务投递客户端
type Client struct {
	broker  queue.Broker
	states  cache.TaskStateCache
	results results.Store
	logger  *logging.Logger
}

// NewClient 创建客户端；results 只在 ScheduleBenchmark 中使用
func NewClient(broker queue.Broker, states cache.TaskStateCache, rs results.Store, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default("tasks")
	}
	return &Client{broker: broker, states: states, results: rs, logger: logger}
}

// Send 投递单个任务并记录 PENDING 状态，返回任务 ID
func (c *Client) Send(ctx context.Context, sig *Signature) (string, error) {
	body, err := json.Marshal(sig)
	if err != nil {
		return "", fmt.Errorf("encode task %s: %w", sig.Name, err)
	}

	if err := c.setState(ctx, sig, StatePending, "", ""); err != nil {
		c.logger.WithTask(sig.ID, sig.Name).WithError(err).Warn("Failed to record task state")
	}

	msg := &queue.Message{TaskID: sig.ID, Name: sig.Name, Body: body, CreatedAt: time.Now().UTC()}
	if _, err := c.broker.Publish(ctx, sig.Queue, msg); err != nil {
		return "", fmt.Errorf("publish task %s: %w", sig.Name, err)
	}
	c.logger.TaskLog("sent", sig.ID, sig.Name, "queue", sig.Queue)
	return sig.ID, nil
}

// Chain 依次执行 links，任一环节失败时投递 errLink（可为 nil），返回第一个环节的 ID
func (c *Client) Chain(ctx context.Context, errLink *Signature, links ...*Signature) (string, error) {
	if len(links) == 0 {
		return "", fmt.Errorf("empty chain")
	}
	head := *links[0]
	head.Chain = append([]*Signature(nil), links[1:]...)
	head.ErrorLink = errLink
	return c.Send(ctx, &head)
}

// ScheduleBenchmark 将结果状态置为 pending，然后投递 encode_decode → post_encode 链
// post_encode 不带参数，接收 encode_decode 的返回值；投递失败时结果置为 failed
func (c *Client) ScheduleBenchmark(ctx context.Context, submissionID string) (string, error) {
	if err := c.results.Transition(ctx, submissionID, results.StatusPending, ""); err != nil {
		return "", err
	}

	args := BenchmarkArgs{SubmissionID: submissionID}
	encodeDecode, err := NewSignature(TaskEncodeDecode, QueueTimed, args)
	if err != nil {
		return "", err
	}
	postEncode, err := NewSignature(TaskPostEncode, QueueDefault, nil)
	if err != nil {
		return "", err
	}
	fail, err := NewSignature(TaskFail, QueueDefault, nil)
	if err != nil {
		return "", err
	}

	id, err := c.Chain(ctx, fail, encodeDecode, postEncode)
	if err != nil {
		if terr := c.results.Transition(ctx, submissionID, results.StatusFailed, err.Error()); terr != nil {
			c.logger.WithSubmission(submissionID).WithError(terr).Error("Failed to mark unscheduled benchmark failed")
		}
		return "", err
	}
	c.logger.WithSubmission(submissionID).Info("Benchmark scheduled", "task_id", id)
	return id, nil
}

// SubmitBenchmark 投递 benchmark.schedule 任务，返回任务句柄
func (c *Client) SubmitBenchmark(ctx context.Context, submissionID string) (string, error) {
	sig, err := NewSignature(TaskSchedule, QueueDefault, BenchmarkArgs{SubmissionID: submissionID})
	if err != nil {
		return "", err
	}
	return c.Send(ctx, sig)
}

// PrepareReference 投递参考数据集准备任务
func (c *Client) PrepareReference(ctx context.Context) (string, error) {
	sig, err := NewSignature(TaskPrepare, QueueDefault, nil)
	if err != nil {
		return "", err
	}
	return c.Send(ctx, sig)
}

// State 查询任务状态，不存在时返回 (nil, nil)
func (c *Client) State(ctx context.Context, taskID string) (*cache.TaskState, error) {
	return c.states.GetTaskState(ctx, taskID)
}

func (c *Client) setState(ctx context.Context, sig *Signature, state, result, errMsg string) error {
	return c.states.SetTaskState(ctx, &cache.TaskState{
		TaskID:    sig.ID,
		Name:      sig.Name,
		Queue:     sig.Queue,
		State:     state,
		Result:    result,
		Error:     errMsg,
		UpdatedAt: time.Now().UTC(),
	})
}
