// Package main API Server 入口
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codec-bench/internal/apiserver/server"
	"codec-bench/internal/artifact"
	"codec-bench/internal/bootstrap"
	"codec-bench/internal/config"
	"codec-bench/internal/image"
	"codec-bench/internal/metrics"
	"codec-bench/internal/tasks"
	"codec-bench/pkg/logging"
)

func main() {
	configDir := flag.String("config", "", "配置文件目录")
	flag.Parse()
	if *configDir != "" {
		config.SetConfigDir(*configDir)
	}

	// 加载配置（自动加载 .env，APP_ENV 选择 {env}.yaml）
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logCfg := cfg.Log
	logCfg.Component = "api-server"
	logger := logging.New(logCfg)

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 结果库（sqlite / postgres / mongodb）
	rs, err := bootstrap.OpenResults(cfg)
	if err != nil {
		log.Fatalf("Failed to open result store: %v", err)
	}
	defer rs.Close()

	// 对象存储（上传包、运行产物、执行单元归档）
	store, err := bootstrap.OpenArtifacts(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to MinIO: %v", err)
	}
	log.Println("Connected to MinIO")

	// 任务队列、任务状态、构建日志；与 Worker 共享 Redis
	inf, err := bootstrap.OpenInfrastructure(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer inf.Close()

	// 构建执行单元需要 Docker
	cli, backend, err := bootstrap.OpenDocker(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Docker: %v", err)
	}
	defer cli.Close()

	m := metrics.New("codec_bench", nil)
	uploads := artifact.NewScope(cfg.MinIO.UploadBucket)
	client := tasks.NewClient(inf.Queue, inf.Cache, rs, logging.Default("tasks"))

	h := server.NewHandler(server.Deps{
		Artifacts: store,
		Uploads:   uploads,
		Results:   rs,
		Builder: image.NewBuilder(backend, store, uploads, image.BuilderConfig{
			Prefix:  cfg.Pipeline.Build.Prefix,
			Exclude: cfg.Pipeline.Build.Exclude,
		}),
		Distributor:    image.NewDistributor(backend, store, artifact.NewScope(cfg.MinIO.UnitBucket)),
		Tasks:          client,
		BuildLogs:      inf.BuildLogs,
		Metrics:        m,
		Logger:         logger,
		MaxUploadBytes: cfg.APIServer.MaxUploadMB << 20,
	})

	// 启动时准备参考数据集（已准备好时 worker 直接跳过）
	if cfg.APIServer.PrepareOnStart {
		if id, err := client.PrepareReference(ctx); err != nil {
			log.Printf("WARNING: failed to enqueue reference preparation: %v", err)
		} else {
			log.Printf("Reference preparation enqueued: %s", id)
		}
	}

	// 构建接口是长连接流式输出，不设置 WriteTimeout
	srv := &http.Server{
		Addr:              ":" + cfg.APIServer.Port,
		Handler:           h.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// 优雅关闭
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("API Server listening on :%s", cfg.APIServer.Port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("Server stopped")
}
