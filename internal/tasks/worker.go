package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"codec-bench/internal/metrics"
	"codec-bench/internal/shared/queue"
	"codec-bench/pkg/logging"
)

// Handler 任务处理函数，返回值作为链条下一环节的参数
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// WorkerConfig Worker 配置
type WorkerConfig struct {
	ID string
	// Concurrency 队列 → 并发消费者数
	Concurrency  map[string]int
	BlockTimeout time.Duration
}

// Worker 任务消费者
//
// 每个队列启动 Concurrency 个消费循环，每次读取一条消息并阻塞处理；
// 处理完成后无论成败都 Ack，不重投递，不重试。
type Worker struct {
	cfg      WorkerConfig
	broker   queue.Broker
	client   *Client
	handlers map[string]Handler
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewWorker 创建 Worker，client 用于投递后续环节和记录任务状态
func NewWorker(client *Client, cfg WorkerConfig, logger *logging.Logger, m *metrics.Metrics) *Worker {
	if cfg.ID == "" {
		cfg.ID = "worker"
	}
	if len(cfg.Concurrency) == 0 {
		cfg.Concurrency = map[string]int{QueueDefault: 1, QueueTimed: 1}
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Default("worker")
	}
	return &Worker{
		cfg:      cfg,
		broker:   client.broker,
		client:   client,
		handlers: map[string]Handler{},
		logger:   logger,
		metrics:  m,
	}
}

// Register 注册任务处理函数
func (w *Worker) Register(name string, h Handler) {
	w.handlers[name] = h
}

// Run 启动所有消费循环，ctx 结束后等待在途任务完成再返回
func (w *Worker) Run(ctx context.Context) error {
	queues := make([]string, 0, len(w.cfg.Concurrency))
	for q := range w.cfg.Concurrency {
		queues = append(queues, q)
	}
	sort.Strings(queues)

	for _, q := range queues {
		if err := w.broker.EnsureQueue(ctx, q); err != nil {
			return fmt.Errorf("ensure queue %s: %w", q, err)
		}
	}

	log.Printf("[Worker] %s consuming %v", w.cfg.ID, w.cfg.Concurrency)

	var wg sync.WaitGroup
	for _, q := range queues {
		for i := 0; i < w.cfg.Concurrency[q]; i++ {
			consumer := fmt.Sprintf("%s-%s-%d", w.cfg.ID, q, i)
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.consume(ctx, q, consumer)
			}()
		}
	}
	wg.Wait()

	log.Printf("[Worker] %s stopped", w.cfg.ID)
	return nil
}

func (w *Worker) consume(ctx context.Context, q, consumer string) {
	for {
		if ctx.Err() != nil {
			return
		}

		deliveries, err := w.broker.Consume(ctx, q, consumer, 1, w.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrClosed) {
				log.Printf("[Worker] queue %s closed, consumer %s exiting", q, consumer)
				return
			}
			log.Printf("[Worker] consume %s failed: %v", q, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, d := range deliveries {
			w.handle(ctx, d)
		}
	}
}

// handle 执行一条消息并推进链条
func (w *Worker) handle(ctx context.Context, d *queue.Delivery) {
	// Ack 与后续投递不随 ctx 取消
	bg := context.WithoutCancel(ctx)
	defer func() {
		if err := w.broker.Ack(bg, d.Queue, d.ID); err != nil {
			log.Printf("[Worker] ack %s/%s failed: %v", d.Queue, d.ID, err)
		}
	}()

	var sig Signature
	if err := json.Unmarshal(d.Message.Body, &sig); err != nil {
		log.Printf("[Worker] dropping undecodable message %s: %v", d.ID, err)
		return
	}
	if sig.Queue == "" {
		sig.Queue = d.Queue
	}

	logger := w.logger.WithTask(sig.ID, sig.Name)
	logger.TaskLog("started", sig.ID, sig.Name, "queue", sig.Queue)
	w.setState(bg, &sig, StateStarted, "", "")
	w.metrics.TaskStarted(sig.Queue)

	start := time.Now()
	result, err := w.invoke(ctx, &sig)
	elapsed := time.Since(start)

	if err != nil {
		logger.WithError(err).WithDuration(elapsed).Error("Task failed")
		w.setState(bg, &sig, StateFailure, "", err.Error())
		w.metrics.TaskFinished(sig.Queue, sig.Name, StateFailure)
		w.publishErrorLink(bg, &sig, err)
		return
	}

	logger.TaskLog("succeeded", sig.ID, sig.Name, "duration_ms", elapsed.Milliseconds())
	w.setState(bg, &sig, StateSuccess, string(result), "")
	w.metrics.TaskFinished(sig.Queue, sig.Name, StateSuccess)
	w.publishNext(bg, &sig, result)
}

func (w *Worker) invoke(ctx context.Context, sig *Signature) (result json.RawMessage, err error) {
	h, ok := w.handlers[sig.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, sig.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Worker] panic in %s: %v\n%s", sig.Name, r, debug.Stack())
			err = fmt.Errorf("task %s panicked: %v", sig.Name, r)
		}
	}()
	return h(ctx, sig.Args)
}

// publishNext 投递链条的下一环节，前一环节的返回值在下一环节没有参数时作为其参数
func (w *Worker) publishNext(ctx context.Context, sig *Signature, result json.RawMessage) {
	if len(sig.Chain) == 0 {
		return
	}
	next := *sig.Chain[0]
	next.Chain = sig.Chain[1:]
	next.ErrorLink = sig.ErrorLink
	if len(next.Args) == 0 && len(result) > 0 {
		next.Args = result
	}
	if _, err := w.client.Send(ctx, &next); err != nil {
		w.logger.WithTask(next.ID, next.Name).WithError(err).Error("Failed to publish next chain link")
	}
}

// publishErrorLink 链条中止，投递错误环节
func (w *Worker) publishErrorLink(ctx context.Context, sig *Signature, cause error) {
	if sig.ErrorLink == nil {
		return
	}
	info, err := json.Marshal(ErrorInfo{TaskID: sig.ID, Task: sig.Name, Error: cause.Error(), Args: sig.Args})
	if err != nil {
		return
	}
	link := *sig.ErrorLink
	link.Args = info
	link.Chain = nil
	link.ErrorLink = nil
	if _, err := w.client.Send(ctx, &link); err != nil {
		w.logger.WithTask(link.ID, link.Name).WithError(errors.Join(cause, err)).Error("Failed to publish error link")
	}
}

func (w *Worker) setState(ctx context.Context, sig *Signature, state, result, errMsg string) {
	if err := w.client.setState(ctx, sig, state, result, errMsg); err != nil {
		log.Printf("[Worker] record state %s=%s failed: %v", sig.ID, state, err)
	}
}
