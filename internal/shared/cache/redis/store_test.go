package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codec-bench/internal/shared/cache"
)

func TestTaskState(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	s, err := NewStoreFromURL(url)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	id := uuid.NewString()
	defer s.DeleteTaskState(ctx, id)

	got, err := s.GetTaskState(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.SetTaskState(ctx, &cache.TaskState{TaskID: id, Name: "benchmark.schedule", Queue: "default", State: "STARTED"}))
	require.NoError(t, s.SetTaskState(ctx, &cache.TaskState{TaskID: id, Name: "benchmark.schedule", Queue: "default", State: "FAILURE", Error: "boom"}))

	got, err = s.GetTaskState(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "FAILURE", got.State)
	assert.Equal(t, "boom", got.Error)
	assert.False(t, got.UpdatedAt.IsZero())

	ttl, err := s.client.TTL(ctx, cache.KeyTaskState+id).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl.Seconds(), 0.0)
}
