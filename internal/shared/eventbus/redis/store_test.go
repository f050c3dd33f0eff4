package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codec-bench/internal/shared/eventbus"
)

func newTestStore(t *testing.T) *Store {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewStoreFromClient(client)
}

func TestBuildLogs_ReplayAndFollow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := uuid.NewString()
	defer s.client.Del(ctx, eventbus.StreamKey(key))

	require.NoError(t, s.PublishBuildLog(ctx, key, &eventbus.BuildLogLine{Line: "Starting build..."}))
	require.NoError(t, s.PublishBuildLog(ctx, key, &eventbus.BuildLogLine{Line: "Step 1/3"}))

	lines, err := s.GetBuildLogs(ctx, key, "", 0)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "Starting build...", lines[0].Line)

	rest, err := s.GetBuildLogs(ctx, key, lines[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "Step 1/3", rest[0].Line)

	subCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ch, err := s.SubscribeBuildLogs(subCtx, key)
	require.NoError(t, err)

	require.NoError(t, s.PublishBuildLog(ctx, key, &eventbus.BuildLogLine{Line: "done", Done: true}))

	var got []string
	for l := range ch {
		got = append(got, l.Line)
	}
	assert.Equal(t, []string{"Starting build...", "Step 1/3", "done"}, got)

	ttl, err := s.client.TTL(ctx, eventbus.StreamKey(key)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl.Seconds(), 0.0)
}
