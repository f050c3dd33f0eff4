// Package logging 结构化日志
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ContextKey 上下文键类型
type ContextKey string

const (
	SubmissionIDKey ContextKey = "submission_id"
	TaskIDKey       ContextKey = "task_id"
	StageKey        ContextKey = "stage"
)

// Logger 结构化日志器
type Logger struct {
	*slog.Logger
	component string
}

// Config 日志配置
type Config struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // json or text
	Output    string `yaml:"output"` // stdout, stderr, or file path
	Component string `yaml:"-"`
}

// New 创建新的日志器
func New(cfg Config) *Logger {
	return NewWithWriter(cfg, openOutput(cfg.Output))
}

// NewWithWriter 使用指定的 writer 创建日志器（测试中用于捕获输出）
func NewWithWriter(cfg Config, output io.Writer) *Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	l := slog.New(handler)
	if cfg.Component != "" {
		l = l.With(slog.String("component", cfg.Component))
	}
	return &Logger{Logger: l, component: cfg.Component}
}

// Default 创建默认日志器
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    "stdout",
		Component: component,
	})
}

// Discard 丢弃所有输出的日志器
func Discard() *Logger {
	return NewWithWriter(Config{Level: "error"}, io.Discard)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openOutput(output string) io.Writer {
	switch output {
	case "stdout", "":
		return os.Stdout
	case "stderr":
		return os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return os.Stdout
		}
		return f
	}
}

// Component 返回组件名
func (l *Logger) Component() string {
	return l.component
}

// WithContext 从上下文提取 submission/task/stage 信息
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	for _, key := range []ContextKey{SubmissionIDKey, TaskIDKey, StageKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return l.with(attrs...)
}

// WithSubmission 添加 Submission ID
func (l *Logger) WithSubmission(submissionID string) *Logger {
	return l.with(slog.String("submission_id", submissionID))
}

// WithTask 添加任务 ID 和任务名
func (l *Logger) WithTask(taskID, name string) *Logger {
	return l.with(slog.String("task_id", taskID), slog.String("task", name))
}

// WithStage 添加阶段名
func (l *Logger) WithStage(stage string) *Logger {
	return l.with(slog.String("stage", stage))
}

// WithError 添加错误信息
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with(slog.String("error", err.Error()))
}

// WithDuration 添加持续时间
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.with(slog.Float64("duration_ms", float64(d.Milliseconds())))
}

func (l *Logger) with(attrs ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(attrs...),
		component: l.component,
	}
}

// HTTPRequestLog HTTP 请求日志
func (l *Logger) HTTPRequestLog(method, path string, status int, duration time.Duration, clientIP string) {
	l.Logger.Info("HTTP request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
		slog.String("client_ip", clientIP),
	)
}

// StageLog 阶段日志
// skipped 表示阶段的产物已完整存在，本次未执行
func (l *Logger) StageLog(stage, submissionID string, skipped bool, duration time.Duration, err error) {
	attrs := []any{
		slog.String("stage", stage),
		slog.String("submission_id", submissionID),
		slog.Bool("skipped", skipped),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Logger.Error("Stage failed", attrs...)
		return
	}
	l.Logger.Info("Stage finished", attrs...)
}

// TaskLog 任务日志
func (l *Logger) TaskLog(action, taskID, name string, extra ...any) {
	attrs := []any{
		slog.String("action", action),
		slog.String("task_id", taskID),
		slog.String("task", name),
	}
	attrs = append(attrs, extra...)
	l.Logger.Info("Task event", attrs...)
}

// DBQueryLog 数据库查询日志
func (l *Logger) DBQueryLog(operation, table string, duration time.Duration, err error) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("table", table),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Logger.Error("DB query failed", attrs...)
	} else {
		l.Logger.Debug("DB query", attrs...)
	}
}
