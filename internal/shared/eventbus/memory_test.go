package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_GetBuildLogs(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBus()

	for _, l := range []string{"a", "b", "c"} {
		require.NoError(t, b.PublishBuildLog(ctx, "k", &BuildLogLine{Line: l}))
	}

	all, err := b.GetBuildLogs(ctx, "k", "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 1, all[0].Seq)

	rest, err := b.GetBuildLogs(ctx, "k", all[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "b", rest[0].Line)

	none, err := b.GetBuildLogs(ctx, "other", "", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryBus_SubscribeReplaysThenFollows(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b := NewMemoryBus()

	require.NoError(t, b.PublishBuildLog(ctx, "k", &BuildLogLine{Line: "Starting build..."}))
	ch, err := b.SubscribeBuildLogs(ctx, "k")
	require.NoError(t, err)

	go func() {
		_ = b.PublishBuildLog(ctx, "k", &BuildLogLine{Line: "Step 1/2"})
		_ = b.PublishBuildLog(ctx, "k", &BuildLogLine{Line: "ok", Done: true})
		_ = b.PublishBuildLog(ctx, "k", &BuildLogLine{Line: "after"})
	}()

	var got []string
	for l := range ch {
		got = append(got, l.Line)
	}
	assert.Equal(t, []string{"Starting build...", "Step 1/2", "ok"}, got)
}

func TestMemoryBus_SubscribeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewMemoryBus()
	ch, err := b.SubscribeBuildLogs(ctx, "k")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
}
