// Package server HTTP API
//
// 文件组织：
//   - common.go: Handler 定义和通用工具函数
//   - handler.go: 路由
//   - upload.go: 压缩包上传
//   - build.go: 镜像构建与构建日志流
//   - logs_ws.go: 构建日志 WebSocket 网关
//   - benchmark.go: 基准任务投递与任务状态查询
//   - results.go: 结果列表、单个结果和排名
package server

import (
	"encoding/json"
	"net/http"

	"codec-bench/internal/artifact"
	"codec-bench/internal/image"
	"codec-bench/internal/metrics"
	"codec-bench/internal/results"
	"codec-bench/internal/shared/eventbus"
	"codec-bench/internal/tasks"
	"codec-bench/pkg/logging"
)

// Deps Handler 依赖，由 main 构造后注入
type Deps struct {
	Artifacts   *artifact.Store
	Uploads     artifact.Scope
	Results     results.Store
	Builder     *image.Builder
	Distributor *image.Distributor
	Tasks       *tasks.Client
	BuildLogs   eventbus.BuildLogBus
	Metrics     *metrics.Metrics
	Logger      *logging.Logger
	// MaxUploadBytes 上传大小上限，0 表示使用默认值
	MaxUploadBytes int64
}

// Handler API 处理器
type Handler struct {
	Deps
	gateway *BuildLogGateway
}

const defaultMaxUpload = 512 << 20

// NewHandler 创建 Handler 实例
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = logging.Default("api")
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUpload
	}
	h := &Handler{Deps: deps}
	h.gateway = NewBuildLogGateway(deps.BuildLogs, deps.Metrics)
	return h
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Health 健康检查接口
//
// 路由: GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
