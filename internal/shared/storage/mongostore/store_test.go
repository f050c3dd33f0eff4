package mongostore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codec-bench/internal/results"
	"codec-bench/internal/shared/storage"
)

// testStore 创建测试用 Store，使用独立数据库避免污染
func testStore(t *testing.T) *Store {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	s, err := NewStore(uri, "codec_bench_test")
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}

	ctx := context.Background()
	require.NoError(t, s.db.Drop(ctx))
	require.NoError(t, s.ensureIndexes(ctx))

	t.Cleanup(func() {
		s.db.Drop(context.Background())
		s.Close()
	})
	return s
}

func TestSubmissionCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sub := &results.Submission{ID: "sub-1", Email: "a@example.org", Name: "Ada", SubmissionName: "zstd"}
	require.NoError(t, s.CreateSubmission(ctx, sub))
	assert.ErrorIs(t, s.CreateSubmission(ctx, sub), storage.ErrDuplicate)

	got, err := s.GetSubmission(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "zstd", got.SubmissionName)

	_, err = s.GetSubmission(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMetricsAndTransitions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetMetric(ctx, "sub-1", results.FieldRatio, 0.6))
	require.NoError(t, s.SetMetric(ctx, "sub-1", results.FieldEncodingRuntime, 1.25))

	res, err := s.GetResult(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, results.StatusNone, res.Status)
	require.NotNil(t, res.Ratio)
	assert.InDelta(t, 0.6, *res.Ratio, 1e-9)

	assert.ErrorIs(t, s.Transition(ctx, "sub-1", results.StatusSuccess, ""), results.ErrIllegalTransition)
	require.NoError(t, s.Transition(ctx, "sub-1", results.StatusPending, ""))
	assert.ErrorIs(t, s.Transition(ctx, "sub-1", results.StatusPending, ""), results.ErrIllegalTransition)
	require.NoError(t, s.Transition(ctx, "sub-1", results.StatusFailed, "boom"))

	res, err = s.GetResult(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, results.StatusFailed, res.Status)
	assert.Equal(t, "boom", res.Error)
	require.NotNil(t, res.EncodingRuntime)

	// 不存在的文档直接进入 pending
	require.NoError(t, s.Transition(ctx, "sub-2", results.StatusPending, ""))
}

func TestListEntries(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSubmission(ctx, &results.Submission{ID: "a", Email: "a@x", Name: "A", SubmissionName: "one"}))
	require.NoError(t, s.CreateSubmission(ctx, &results.Submission{ID: "b", Email: "b@x", Name: "B", SubmissionName: "two"}))
	require.NoError(t, s.SetMetric(ctx, "a", results.FieldAccuracy, 88))

	entries, err := s.ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		if e.ID == "a" {
			require.NotNil(t, e.Result.Accuracy)
			assert.Equal(t, 88.0, *e.Result.Accuracy)
		} else {
			assert.Equal(t, results.StatusNone, e.Result.Status)
		}
	}
}
