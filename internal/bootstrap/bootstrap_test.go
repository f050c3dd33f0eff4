package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codec-bench/internal/config"
	"codec-bench/internal/results"
)

func TestOpenResults_SQLite(t *testing.T) {
	rs, err := OpenResults(&config.Config{DatabaseDriver: "sqlite", DatabaseURL: "sqlite::memory:"})
	require.NoError(t, err)
	defer rs.Close()

	ctx := context.Background()
	sub := &results.Submission{
		ID:             "sub-1",
		Email:          "a@example.com",
		Name:           "Alice",
		SubmissionName: "zstd-tuned",
		CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, rs.CreateSubmission(ctx, sub))

	got, err := rs.GetSubmission(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "zstd-tuned", got.SubmissionName)

	require.NoError(t, rs.Transition(ctx, "sub-1", results.StatusPending, ""))
	res, err := rs.GetResult(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, results.StatusPending, res.Status)
}

func TestOpenInfrastructure_NoInProcessFallback(t *testing.T) {
	inf, err := OpenInfrastructure(&config.Config{RedisURL: "not-a-url"})
	assert.Error(t, err)
	assert.Nil(t, inf)
}
