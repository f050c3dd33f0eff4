// Package bootstrap 进程启动时的依赖装配
//
// api-server 和 worker 共用：按配置打开结果库、对象存储、Redis 基础设施和 Docker 运行时。
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"codec-bench/internal/artifact"
	"codec-bench/internal/config"
	"codec-bench/internal/results"
	dockersandbox "codec-bench/internal/sandbox/docker"
	"codec-bench/internal/shared/infra"
	objstore "codec-bench/internal/shared/minio"
	"codec-bench/internal/shared/storage/dbutil"
	"codec-bench/internal/shared/storage/driver/postgres"
	"codec-bench/internal/shared/storage/driver/sqlite"
	"codec-bench/internal/shared/storage/mongostore"
	"codec-bench/pkg/docker"
)

// OpenResults 按 DatabaseDriver 打开结果库并建表
func OpenResults(cfg *config.Config) (results.Store, error) {
	switch cfg.DatabaseDriver {
	case "mongodb":
		name := cfg.DatabaseName
		if name == "" {
			name = "codec_bench"
		}
		store, err := mongostore.NewStore(cfg.DatabaseURL, name)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return migrate(db, postgres.NewDialect())
	default:
		dsn := strings.TrimPrefix(cfg.DatabaseURL, "sqlite:")
		db, err := sqlite.Open(dsn)
		if err != nil {
			return nil, err
		}
		return migrate(db, sqlite.NewDialect())
	}
}

func migrate(db *sql.DB, dialect dbutil.Dialect) (results.Store, error) {
	if err := dialect.AutoMigrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("auto migrate (%s): %w", dialect.DriverType(), err)
	}
	log.Printf("[Bootstrap] Result store ready (%s)", dialect.DriverType())
	return results.NewSQLStore(db, dialect), nil
}

// OpenArtifacts 连接 MinIO 并确保三个 bucket 存在
func OpenArtifacts(ctx context.Context, cfg *config.Config) (*artifact.Store, error) {
	client, err := objstore.NewClient(cfg.MinIO)
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBuckets(ctx, cfg.MinIO.UploadBucket, cfg.MinIO.RunBucket, cfg.MinIO.UnitBucket); err != nil {
		return nil, err
	}
	return artifact.NewStore(client), nil
}

// OpenInfrastructure 连接 Redis
// API Server 与 Worker 必须共享同一个队列，因此不提供进程内退回
func OpenInfrastructure(cfg *config.Config) (*infra.Infrastructure, error) {
	inf, err := infra.NewRedisInfrastructure(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return inf, nil
}

// OpenDocker 连接 Docker daemon 并创建沙箱
func OpenDocker(ctx context.Context, cfg *config.Config) (*docker.Client, *dockersandbox.Backend, error) {
	cli, err := docker.NewClient()
	if err != nil {
		return nil, nil, err
	}
	if err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, nil, fmt.Errorf("docker daemon not reachable: %w", err)
	}
	return cli, dockersandbox.New(cli, cfg.Pipeline.Build.Dockerfile), nil
}
