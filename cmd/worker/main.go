// Package main 基准 Worker 入口
//
// 消费 default 和 timed 两个队列。timed 队列承载计时执行，
// 并发度默认为 1，保证计时阶段独占机器。
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codec-bench/internal/artifact"
	"codec-bench/internal/bootstrap"
	"codec-bench/internal/config"
	"codec-bench/internal/image"
	"codec-bench/internal/metrics"
	"codec-bench/internal/pipeline"
	"codec-bench/internal/sandbox"
	"codec-bench/internal/tasks"
	"codec-bench/pkg/logging"
)

func main() {
	configDir := flag.String("config", "", "配置文件目录")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus 指标监听地址，如 :9101（为空不启动）")
	flag.Parse()
	if *configDir != "" {
		config.SetConfigDir(*configDir)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logCfg := cfg.Log
	logCfg.Component = "worker"
	logger := logging.New(logCfg)

	log.Printf("Starting Worker %s... [env=%s]", cfg.Worker.ID, cfg.Env)
	log.Printf("Config: %s", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Worker.WorkDir, 0755); err != nil {
		log.Fatalf("Failed to create work dir: %v", err)
	}

	rs, err := bootstrap.OpenResults(cfg)
	if err != nil {
		log.Fatalf("Failed to open result store: %v", err)
	}
	defer rs.Close()

	store, err := bootstrap.OpenArtifacts(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to MinIO: %v", err)
	}

	inf, err := bootstrap.OpenInfrastructure(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer inf.Close()

	cli, backend, err := bootstrap.OpenDocker(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Docker: %v", err)
	}
	defer cli.Close()

	m := metrics.New("codec_bench", nil)
	if *metricsAddr != "" {
		go serveMetrics(ctx, *metricsAddr)
	}

	orch := pipeline.New(pipeline.ConfigFrom(cfg), pipeline.Deps{
		Artifacts:  store,
		Sandbox:    backend,
		Units:      image.NewDistributor(backend, store, artifact.NewScope(cfg.MinIO.UnitBucket)),
		Results:    rs,
		Workspaces: sandbox.NewWorkspaceManager(cfg.Worker.WorkDir),
		Logger:     logger.WithStage("pipeline"),
		Metrics:    m,
	})

	client := tasks.NewClient(inf.Queue, inf.Cache, rs, logger)
	w := tasks.NewWorker(client, tasks.WorkerConfig{
		ID: cfg.Worker.ID,
		Concurrency: map[string]int{
			tasks.QueueDefault: cfg.Worker.DefaultConcurrency,
			tasks.QueueTimed:   cfg.Worker.TimedConcurrency,
		},
		BlockTimeout: cfg.Worker.BlockTimeout,
	}, logger, m)
	tasks.RegisterBenchmarks(w, orch, rs, client, logger)

	log.Printf("Worker consuming %s(x%d), %s(x%d)",
		tasks.QueueDefault, cfg.Worker.DefaultConcurrency, tasks.QueueTimed, cfg.Worker.TimedConcurrency)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("Worker error: %v", err)
	}
	log.Println("Worker stopped")
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	log.Printf("Metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Printf("Metrics server error: %v", err)
	}
}
