// Package pipeline 基准流水线编排
//
// 参考数据准备：download → deconstruct → search(baseline)
// 单个 submission：encode → decode → reconstruct → search(new) → cleanup → compare
//
// 每个阶段在执行前检查自己的产物，产物完整时跳过；阶段结果以 Outcome 返回，
// 序列遇到非 OK 的 Outcome 立即停止。数值结果在阶段完成时立即写入结果库。
package pipeline

import (
	"context"
	"net/http"
	"strings"
	"time"

	"codec-bench/internal/artifact"
	"codec-bench/internal/config"
	"codec-bench/internal/metrics"
	"codec-bench/internal/results"
	"codec-bench/internal/sandbox"
	"codec-bench/pkg/logging"
)

// 阶段名
const (
	StageDownload    = "download"
	StageDeconstruct = "deconstruct"
	StageSearch      = "search"
	StageEncode      = "encode"
	StageDecode      = "decode"
	StageReconstruct = "reconstruct"
	StageCleanup     = "cleanup"
	StageCompare     = "compare"
)

// ReferencePrefix 参考数据在 run bucket 中的前缀
const ReferencePrefix = "init"

// ReconstructedName 往返后重建的谱图文件名
const ReconstructedName = "new.mzML"

// identificationSuffix 鉴定结果中用于对比的制表符分隔文件
const identificationSuffix = ".txt"

// Materializer 确保执行单元在本地可用
type Materializer interface {
	Materialize(ctx context.Context, unit sandbox.Unit) error
}

// ResultWriter 流水线只需要写入单个指标
type ResultWriter interface {
	SetMetric(ctx context.Context, id string, field results.Field, value float64) error
}

// Config 流水线配置
type Config struct {
	RunBucket      string
	Reference      config.ReferenceConfig
	Tools          config.ToolsConfig
	TimedRuns      int
	Idempotency    string
	SearchSuffixes []string
	CodecNetwork   bool
	// Clock 计时执行的时间源，nil 时使用 time.Now
	Clock sandbox.Clock
}

// ConfigFrom 从应用配置生成流水线配置
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		RunBucket:      cfg.MinIO.RunBucket,
		Reference:      cfg.Pipeline.Reference,
		Tools:          cfg.Pipeline.Tools,
		TimedRuns:      cfg.Pipeline.TimedRuns,
		Idempotency:    cfg.Pipeline.Idempotency,
		SearchSuffixes: cfg.Pipeline.SearchSuffixes,
		CodecNetwork:   cfg.Pipeline.CodecNetwork,
	}
}

// Deps 流水线依赖，由 main 构造后注入
type Deps struct {
	Artifacts  *artifact.Store
	Sandbox    sandbox.Sandbox
	Units      Materializer
	Results    ResultWriter
	Workspaces *sandbox.WorkspaceManager
	HTTPClient *http.Client
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
}

// Orchestrator 流水线编排器
type Orchestrator struct {
	cfg  Config
	deps Deps

	reference artifact.Scope
	base      string
}

// New 创建编排器
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.TimedRuns <= 0 {
		cfg.TimedRuns = sandbox.DefaultTimedRuns
	}
	if cfg.Idempotency == "" {
		cfg.Idempotency = config.IdempotencyMarker
	}
	if len(cfg.SearchSuffixes) == 0 {
		cfg.SearchSuffixes = []string{".pep.xml", ".pin", identificationSuffix}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Minute}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default("pipeline")
	}
	if deps.Workspaces == nil {
		deps.Workspaces = sandbox.NewWorkspaceManager("")
	}
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		reference: artifact.NewScope(cfg.RunBucket, ReferencePrefix),
		base:      baseName(cfg.Reference.Name),
	}
}

// baseName 去掉扩展名："test.mzML" → "test"
func baseName(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}

// ReferenceScope 参考数据作用域
func (o *Orchestrator) ReferenceScope() artifact.Scope {
	return o.reference
}

// SubmissionScope submission 的运行作用域
func (o *Orchestrator) SubmissionScope(submissionID string) artifact.Scope {
	return artifact.NewScope(o.cfg.RunBucket, submissionID)
}

// 文件名
func (o *Orchestrator) payloadName() string { return o.base + ".npy" }
func (o *Orchestrator) metaName() string    { return o.base + ".meta.xml" }
func (o *Orchestrator) encodedName() string { return o.base + ".enc" }

func searchOutputs(base string, suffixes []string) []string {
	names := make([]string, len(suffixes))
	for i, s := range suffixes {
		names[i] = base + s
	}
	return names
}
