package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codec-bench/internal/config"
	"codec-bench/internal/shared/storage"
)

// testClient 连接 MINIO_TEST_ENDPOINT，未配置或不可达时跳过
func testClient(t *testing.T) (*Client, string) {
	t.Helper()
	endpoint := os.Getenv("MINIO_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_TEST_ENDPOINT not set")
	}
	c, err := NewClient(config.MinIOConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("MINIO_ROOT_USER"),
		SecretKey: os.Getenv("MINIO_ROOT_PASSWORD"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bucket := "codec-bench-test-" + uuid.NewString()[:8]
	if err := c.EnsureBuckets(ctx, bucket); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := c.List(ctx, bucket, "")
		for _, k := range keys {
			c.Delete(ctx, bucket, k)
		}
		c.mc.RemoveBucket(ctx, bucket)
	})
	return c, bucket
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(config.MinIOConfig{})
	assert.Error(t, err)
	_, err = NewClient(config.MinIOConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestClientRoundTrip(t *testing.T) {
	c, bucket := testClient(t)
	ctx := context.Background()

	data := []byte("payload")
	require.NoError(t, c.Put(ctx, bucket, "sub/encode/test.enc", bytes.NewReader(data), int64(len(data)), ""))

	rc, size, err := c.Get(ctx, bucket, "sub/encode/test.enc")
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, data, got)
	assert.Equal(t, int64(len(data)), size)

	keys, err := c.List(ctx, bucket, "sub/")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub/encode/test.enc"}, keys)

	require.NoError(t, c.Delete(ctx, bucket, "sub/encode/test.enc"))
	_, err = c.Stat(ctx, bucket, "sub/encode/test.enc")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
