package server

import (
	"net/http"
	"time"

	"codec-bench/internal/metrics"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查与指标:
//   - GET  /health
//   - GET  /metrics
//
// 提交:
//   - POST /api/v1/upload                   - 上传 zip 压缩包并创建 submission
//   - POST /api/v1/build-container/{key}    - 构建执行单元，响应体为逐行构建日志
//   - POST /api/v1/benchmark                - 投递基准任务，返回任务句柄
//   - GET  /api/v1/tasks/{id}               - 查询任务状态
//
// 结果:
//   - GET  /api/v1/results                  - 全部结果（含提交者信息）
//   - GET  /api/v1/results/{id}             - 单个结果
//   - GET  /api/v1/rank/{id}                - 单个 submission 在成功结果中的排名
//
// WebSocket:
//   - GET  /ws/builds/{key}/logs            - 回放并跟随构建日志
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/v1/upload", h.Upload)
	mux.HandleFunc("POST /api/v1/build-container/{key}", h.BuildContainer)
	mux.HandleFunc("POST /api/v1/benchmark", h.Benchmark)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.GetTask)

	mux.HandleFunc("GET /api/v1/results", h.ListResults)
	mux.HandleFunc("GET /api/v1/results/{id}", h.GetResult)
	mux.HandleFunc("GET /api/v1/rank/{id}", h.GetRank)

	apiHandler := h.logRequests(h.Metrics.Middleware(mux))
	corsHandler := corsMiddleware(apiHandler)

	// WebSocket 绕过 metrics 中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /ws/builds/{key}/logs", h.gateway.HandleWebSocket)
	topMux.Handle("/", corsHandler)

	return topMux
}

// logRequests 记录每个请求
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.Logger.HTTPRequestLog(r.Method, r.URL.Path, rec.status, time.Since(start), r.RemoteAddr)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush 构建日志是分块响应，需要透传 Flush
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
