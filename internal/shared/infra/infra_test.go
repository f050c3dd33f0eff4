package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codec-bench/internal/shared/cache"
	"codec-bench/internal/shared/queue"
)

func TestMemoryInfrastructure(t *testing.T) {
	ctx := context.Background()
	i := NewMemoryInfrastructure()
	defer i.Close()

	require.NoError(t, i.Queue.EnsureQueue(ctx, "default"))
	_, err := i.Queue.Publish(ctx, "default", &queue.Message{TaskID: "t1", Name: "x"})
	require.NoError(t, err)
	ds, err := i.Queue.Consume(ctx, "default", "c", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, ds, 1)

	require.NoError(t, i.Cache.SetTaskState(ctx, &cache.TaskState{TaskID: "t1", State: "PENDING"}))
	s, err := i.Cache.GetTaskState(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "PENDING", s.State)

	assert.NotNil(t, i.BuildLogs)
}

func TestNewRedisInfrastructureBadURL(t *testing.T) {
	_, err := NewRedisInfrastructure("not-a-url")
	assert.Error(t, err)
}
