// Package metrics Prometheus 指标导出
//
// API Server 与 Worker 共用一组指标定义，各自只更新与自己相关的部分。
// 所有 Record* 方法在 *Metrics 为 nil 时为空操作。
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace 默认指标命名空间
const Namespace = "codec_bench"

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// 流水线阶段指标
	StagesTotal     *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	TimedRunSeconds *prometheus.HistogramVec

	// 任务指标
	TasksTotal    *prometheus.CounterVec
	TasksInFlight *prometheus.GaugeVec

	// 镜像构建指标
	BuildsTotal   *prometheus.CounterVec
	BuildDuration prometheus.Histogram

	// WebSocket 指标
	WSConnectionsActive prometheus.Gauge
}

// New 在 reg 上注册并创建指标；reg 为 nil 时使用默认注册表
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		StagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_stages_total",
				Help:      "Pipeline stage outcomes by stage and kind",
			},
			[]string{"stage", "kind"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_duration_seconds",
				Help:      "Pipeline stage wall time in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"stage"},
		),
		TimedRunSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "codec_timed_run_seconds",
				Help:      "Mean codec run time per timed stage in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		TasksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Tasks handled by name and final state",
			},
			[]string{"task", "state"},
		),
		TasksInFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks_in_flight",
				Help:      "Tasks currently executing per queue",
			},
			[]string{"queue"},
		),
		BuildsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "image_builds_total",
				Help:      "Image builds by result",
			},
			[]string{"result"},
		),
		BuildDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "image_build_duration_seconds",
				Help:      "Image build duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		WSConnectionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_connections_active",
				Help:      "Active WebSocket connections",
			},
		),
	}
}

// Handler 返回 Prometheus HTTP Handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware 创建 HTTP 指标中间件
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// responseWriter 包装 http.ResponseWriter 以捕获状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush 构建日志按块输出，需要透传 Flusher
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// idRoutes 路径中最后一段为 ID 的路由前缀
var idRoutes = []string{
	"/api/v1/build-container/",
	"/api/v1/tasks/",
	"/api/v1/results/",
	"/api/v1/rank/",
}

// normalizePath 将 ID 替换为占位符，避免高基数
func normalizePath(path string) string {
	for _, prefix := range idRoutes {
		if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
			return prefix + "{id}"
		}
	}
	if strings.HasPrefix(path, "/ws/builds/") {
		return "/ws/builds/{id}/logs"
	}
	return path
}

// RecordStage 记录阶段结果
func (m *Metrics) RecordStage(stage, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.StagesTotal.WithLabelValues(stage, kind).Inc()
	if d > 0 {
		m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// RecordTimedRun 记录计时阶段的平均耗时
func (m *Metrics) RecordTimedRun(stage string, mean time.Duration) {
	if m == nil {
		return
	}
	m.TimedRunSeconds.WithLabelValues(stage).Observe(mean.Seconds())
}

// TaskStarted 任务开始执行
func (m *Metrics) TaskStarted(queue string) {
	if m == nil {
		return
	}
	m.TasksInFlight.WithLabelValues(queue).Inc()
}

// TaskFinished 任务执行结束
func (m *Metrics) TaskFinished(queue, task, state string) {
	if m == nil {
		return
	}
	m.TasksInFlight.WithLabelValues(queue).Dec()
	m.TasksTotal.WithLabelValues(task, state).Inc()
}

// RecordBuild 记录镜像构建
func (m *Metrics) RecordBuild(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.BuildsTotal.WithLabelValues(result).Inc()
	m.BuildDuration.Observe(d.Seconds())
}

// WSConnectionOpened WebSocket 连接打开
func (m *Metrics) WSConnectionOpened() {
	if m == nil {
		return
	}
	m.WSConnectionsActive.Inc()
}

// WSConnectionClosed WebSocket 连接关闭
func (m *Metrics) WSConnectionClosed() {
	if m == nil {
		return
	}
	m.WSConnectionsActive.Dec()
}
