package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codec-bench/internal/shared/cache"
	"codec-bench/internal/shared/queue"
	"codec-bench/pkg/logging"
)

// calls 记录每个任务收到的参数
type calls struct {
	mu   sync.Mutex
	args map[string][]json.RawMessage
}

func (c *calls) record(name string, args json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.args == nil {
		c.args = map[string][]json.RawMessage{}
	}
	c.args[name] = append(c.args[name], args)
}

func (c *calls) get(name string) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]json.RawMessage(nil), c.args[name]...)
}

type testEnv struct {
	broker *queue.MemoryBroker
	states *cache.MemoryCache
	client *Client
	worker *Worker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{broker: queue.NewMemoryBroker(), states: cache.NewMemoryCache()}
	env.client = NewClient(env.broker, env.states, nil, logging.Discard())
	env.worker = NewWorker(env.client, WorkerConfig{
		ID:           "test",
		Concurrency:  map[string]int{QueueDefault: 2, QueueTimed: 1},
		BlockTimeout: 20 * time.Millisecond,
	}, logging.Discard(), nil)
	return env
}

// start 在后台运行 Worker，测试结束时停止
func (e *testEnv) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.worker.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// idle 所有队列为空且没有未确认的消息
func (e *testEnv) idle() bool {
	for _, q := range []string{QueueDefault, QueueTimed} {
		n, _ := e.broker.Length(context.Background(), q)
		if n > 0 || e.broker.Pending(q) > 0 {
			return false
		}
	}
	return true
}

func (e *testEnv) state(t *testing.T, id string) *cache.TaskState {
	t.Helper()
	s, err := e.client.State(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, s, "no state for %s", id)
	return s
}

func sig(t *testing.T, name, q string, args any) *Signature {
	t.Helper()
	s, err := NewSignature(name, q, args)
	require.NoError(t, err)
	return s
}

func TestChain_PassesResultToNextLink(t *testing.T) {
	env := newTestEnv(t)
	rec := &calls{}
	env.worker.Register("t.a", func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		rec.record("t.a", args)
		return json.RawMessage(`{"n":1}`), nil
	})
	env.worker.Register("t.b", func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		rec.record("t.b", args)
		return nil, nil
	})
	env.worker.Register("t.c", func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		rec.record("t.c", args)
		return nil, nil
	})
	env.start(t)

	a := sig(t, "t.a", QueueTimed, map[string]int{"n": 0})
	b := sig(t, "t.b", QueueDefault, nil)
	c := sig(t, "t.c", QueueDefault, map[string]int{"n": 9})
	id, err := env.client.Chain(context.Background(), nil, a, b, c)
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)

	require.Eventually(t, func() bool { return len(rec.get("t.c")) == 1 }, 5*time.Second, 10*time.Millisecond)

	assert.JSONEq(t, `{"n":1}`, string(rec.get("t.b")[0]))
	assert.JSONEq(t, `{"n":9}`, string(rec.get("t.c")[0]), "explicit args are kept")
	require.Eventually(t, env.idle, 2*time.Second, 10*time.Millisecond)
	for _, s := range []*Signature{a, b, c} {
		assert.Equal(t, StateSuccess, env.state(t, s.ID).State, s.Name)
	}
}

func TestChain_StopsAfterFailure(t *testing.T) {
	env := newTestEnv(t)
	rec := &calls{}
	env.worker.Register("t.a", func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		rec.record("t.a", args)
		return nil, errors.New("codec crashed")
	})
	env.worker.Register("t.b", func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		rec.record("t.b", args)
		return nil, nil
	})
	env.worker.Register("t.err", func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		rec.record("t.err", args)
		return nil, nil
	})
	env.start(t)

	a := sig(t, "t.a", QueueTimed, BenchmarkArgs{SubmissionID: "s1"})
	b := sig(t, "t.b", QueueDefault, nil)
	errLink := sig(t, "t.err", QueueDefault, nil)
	_, err := env.client.Chain(context.Background(), errLink, a, b)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.get("t.err")) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, env.idle, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, rec.get("t.b"), "next link never runs after a failure")

	var info ErrorInfo
	require.NoError(t, json.Unmarshal(rec.get("t.err")[0], &info))
	assert.Equal(t, a.ID, info.TaskID)
	assert.Equal(t, "t.a", info.Task)
	assert.Equal(t, "codec crashed", info.Error)
	assert.JSONEq(t, `{"submission_id":"s1"}`, string(info.Args))

	st := env.state(t, a.ID)
	assert.Equal(t, StateFailure, st.State)
	assert.Equal(t, "codec crashed", st.Error)
	assert.Equal(t, StateSuccess, env.state(t, errLink.ID).State)
}

func TestWorker_UnknownTaskAndPanic(t *testing.T) {
	env := newTestEnv(t)
	env.worker.Register("t.panic", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		panic("boom")
	})
	env.start(t)

	ctx := context.Background()
	unknown := sig(t, "t.missing", QueueDefault, nil)
	_, err := env.client.Send(ctx, unknown)
	require.NoError(t, err)
	panicking := sig(t, "t.panic", QueueDefault, nil)
	_, err = env.client.Send(ctx, panicking)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a, _ := env.client.State(ctx, unknown.ID)
		b, _ := env.client.State(ctx, panicking.ID)
		return a != nil && a.State == StateFailure && b != nil && b.State == StateFailure
	}, 5*time.Second, 10*time.Millisecond)

	assert.Contains(t, env.state(t, unknown.ID).Error, ErrUnknownTask.Error())
	assert.Contains(t, env.state(t, panicking.ID).Error, "panicked")
	require.Eventually(t, env.idle, 2*time.Second, 10*time.Millisecond)
}

func TestSend_RecordsPendingState(t *testing.T) {
	env := newTestEnv(t)
	s := sig(t, "t.a", QueueDefault, nil)
	id, err := env.client.Send(context.Background(), s)
	require.NoError(t, err)

	st := env.state(t, id)
	assert.Equal(t, StatePending, st.State)
	assert.Equal(t, QueueDefault, st.Queue)

	n, err := env.broker.Length(context.Background(), QueueDefault)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestChainRejectsEmpty(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.client.Chain(context.Background(), nil)
	assert.Error(t, err)
}

func TestWorker_RunReturnsWhenBrokerClosed(t *testing.T) {
	env := newTestEnv(t)

	done := make(chan error, 1)
	go func() { done <- env.worker.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, env.broker.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker kept consuming a closed broker")
	}
}
