package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBroker_PublishConsumeAck(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	require.NoError(t, b.EnsureQueue(ctx, "default"))

	id, err := b.Publish(ctx, "default", &Message{TaskID: "t1", Name: "x", Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	n, _ := b.Length(ctx, "default")
	assert.Equal(t, int64(1), n)

	ds, err := b.Consume(ctx, "default", "w1", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "t1", ds[0].Message.TaskID)
	assert.Equal(t, 1, b.Pending("default"))

	require.NoError(t, b.Ack(ctx, "default", ds[0].ID))
	assert.Equal(t, 0, b.Pending("default"))
}

func TestMemoryBroker_QueuesAreIsolated(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	_, err := b.Publish(ctx, "timed", &Message{TaskID: "t1"})
	require.NoError(t, err)

	ds, err := b.Consume(ctx, "default", "w1", 1, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestMemoryBroker_ConsumeWakesOnPublish(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()

	var wg sync.WaitGroup
	var got []*Delivery
	wg.Add(1)
	go func() {
		defer wg.Done()
		got, _ = b.Consume(ctx, "default", "w1", 1, 5*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := b.Publish(ctx, "default", &Message{TaskID: "late"})
	require.NoError(t, err)
	wg.Wait()

	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].Message.TaskID)
}

func TestMemoryBroker_SingleDelivery(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	for i := 0; i < 10; i++ {
		_, err := b.Publish(ctx, "default", &Message{})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				ds, _ := b.Consume(ctx, "default", "w", 2, 20*time.Millisecond)
				if len(ds) == 0 {
					return
				}
				mu.Lock()
				for _, d := range ds {
					seen[d.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 10)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestMemoryBroker_ContextCanceled(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Consume(ctx, "default", "w1", 1, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryBroker_ConsumeAfterClose(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := b.Consume(ctx, "default", "w1", 1, 10*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked consumer was not released by Close")
	}

	start := time.Now()
	_, err := b.Consume(ctx, "default", "w1", 1, 10*time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStreamKey(t *testing.T) {
	assert.Equal(t, "tasks:timed", StreamKey("timed"))
}
