package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"codec-bench/internal/artifact"
	"codec-bench/internal/image"
	"codec-bench/internal/shared/eventbus"
	"codec-bench/internal/shared/storage"
	"codec-bench/pkg/logging"
)

// BuildContainer 构建 submission 的执行单元
//
// 路由: POST /api/v1/build-container/{key}
//
// 响应体为 text/plain 分块输出，第一行 "Starting build..."，随后是构建日志，
// 最后一行为成功信息或 "ERROR: ..."。每一行同时写入构建日志总线，
// 供 /ws/builds/{key}/logs 回放。
//
// 错误响应（开始输出之前）:
//   - 404 Not Found: submission 或上传的压缩包不存在
//   - 400 Bad Request: 压缩包中没有 transform/ 目录
func (h *Handler) BuildContainer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.PathValue("key")

	if _, err := h.Results.GetSubmission(ctx, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "submission not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load submission")
		return
	}

	archive, err := h.Artifacts.Get(ctx, h.Uploads, image.UploadName(key))
	if err != nil {
		if artifact.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "upload not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read upload")
		return
	}
	if err := h.Builder.Validate(archive); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	out := newBuildLog(ctx, w, h.BuildLogs, key, h.Logger)
	out.line("Starting build...")

	start := time.Now()
	unit, err := h.Builder.Build(ctx, key, archive, out.line)
	if err == nil && h.Distributor != nil {
		err = h.Distributor.Publish(ctx, unit)
	}
	h.Metrics.RecordBuild(err == nil, time.Since(start))

	if err != nil {
		h.Logger.WithSubmission(key).WithError(err).Error("Build failed")
		out.done("ERROR: " + err.Error())
		return
	}
	h.Logger.WithSubmission(key).Info("Build finished", "unit", unit.Name)
	out.done(fmt.Sprintf("Docker image built successfully for %s.", key))
}

// buildLog 把构建日志同时写入 HTTP 响应和日志总线
type buildLog struct {
	ctx       context.Context
	w         http.ResponseWriter
	flusher   http.Flusher
	bus       eventbus.BuildLogBus
	key       string
	logger    *logging.Logger
	busFailed bool
}

func newBuildLog(ctx context.Context, w http.ResponseWriter, bus eventbus.BuildLogBus, key string, logger *logging.Logger) *buildLog {
	f, _ := w.(http.Flusher)
	return &buildLog{ctx: ctx, w: w, flusher: f, bus: bus, key: key, logger: logger}
}

func (b *buildLog) line(s string) {
	b.emit(s, false)
}

func (b *buildLog) done(s string) {
	b.emit(s, true)
}

func (b *buildLog) emit(s string, done bool) {
	fmt.Fprintf(b.w, "%s\n", s)
	if b.flusher != nil {
		b.flusher.Flush()
	}

	if b.bus == nil || b.busFailed {
		return
	}
	// 客户端断开后仍把结束行写入总线
	ctx := context.WithoutCancel(b.ctx)
	if err := b.bus.PublishBuildLog(ctx, b.key, &eventbus.BuildLogLine{Line: s, Done: done}); err != nil {
		b.busFailed = true
		b.logger.Warn("Build log bus unavailable", "submission_id", b.key, "error", err.Error())
	}
}
