// Package objstore 封装 MinIO 对象存储客户端
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"codec-bench/internal/config"
	"codec-bench/internal/shared/storage"
)

// Client MinIO 客户端封装
// bucket 由调用方逐次指定，同一个客户端服务上传、运行产物和执行单元三个 bucket
type Client struct {
	mc *minio.Client
}

// NewClient 创建 MinIO 客户端
func NewClient(cfg config.MinIOConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio access_key and secret_key are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{mc: mc}, nil
}

// EnsureBuckets 确保 bucket 存在
func (c *Client) EnsureBuckets(ctx context.Context, buckets ...string) error {
	for _, bucket := range buckets {
		exists, err := c.mc.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if exists {
			continue
		}
		if err := c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			// 多个进程同时启动时可能已被其他进程创建
			code := minio.ToErrorResponse(err).Code
			if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
				continue
			}
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		log.Printf("[minio] Created bucket: %s", bucket)
	}
	return nil
}

// Put 上传对象，size 为 -1 时按流式分片上传
func (c *Client) Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := c.mc.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Get 下载对象，调用方负责关闭返回的 ReadCloser
func (c *Client) Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("download %s/%s: %w", bucket, key, wrapError(err))
	}
	// GetObject 不会立即返回错误，通过 Stat 验证对象存在
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, 0, fmt.Errorf("stat %s/%s: %w", bucket, key, wrapError(err))
	}
	return obj, info.Size, nil
}

// Stat 返回对象大小
func (c *Client) Stat(ctx context.Context, bucket, key string) (int64, error) {
	info, err := c.mc.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, fmt.Errorf("stat %s/%s: %w", bucket, key, wrapError(err))
	}
	return info.Size, nil
}

// List 递归列出 prefix 下的全部对象 key
func (c *Client) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for obj := range c.mc.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, wrapError(obj.Err))
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Delete 删除对象，对象不存在时不报错
func (c *Client) Delete(ctx context.Context, bucket, key string) error {
	if err := c.mc.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// wrapError 将 MinIO 的 NoSuchKey/NoSuchBucket 转换为 storage.ErrNotFound
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return errors.Join(storage.ErrNotFound, err)
	}
	return err
}
