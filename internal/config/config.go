// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env.{env} 加载敏感信息（密码、密钥）
//  2. 根据 APP_ENV 加载对应的 configs/{env}.yaml 配置文件
//  3. 环境变量可覆盖 YAML 配置
//
// 使用方式：
//   - 开发环境: APP_ENV=dev (默认)
//   - 测试环境: APP_ENV=test
//   - 生产环境: APP_ENV=prod
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"codec-bench/pkg/logging"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// 幂等判定模式
const (
	IdempotencyMarker  = "marker"
	IdempotencyListing = "listing"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	APIServer APIServerConfig `yaml:"api_server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Worker    WorkerConfig    `yaml:"worker"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Log       logging.Config  `yaml:"log"`

	loadedFrom string
}

type APIServerConfig struct {
	Port string `yaml:"port"`
	// MaxUploadMB 上传压缩包大小上限
	MaxUploadMB int64 `yaml:"max_upload_mb"`
	// PrepareOnStart 启动时投递参考数据集准备任务
	PrepareOnStart bool `yaml:"prepare_on_start"`
}

// DatabaseConfig 结果库配置，driver 可选 sqlite / postgres / mongodb
type DatabaseConfig struct {
	Driver  string `yaml:"driver"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`
	Name    string `yaml:"name"`
	SSLMode string `yaml:"sslmode"`
	Path    string `yaml:"path"` // sqlite 文件路径
	URI     string `yaml:"uri"`  // mongodb 完整 URI
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`
}

// MinIOConfig 对象存储配置
// 三个 bucket 分别存放上传的压缩包、运行产物和发布的执行单元
type MinIOConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"-"`
	SecretKey    string `yaml:"-"`
	UseSSL       bool   `yaml:"use_ssl"`
	UploadBucket string `yaml:"upload_bucket"`
	RunBucket    string `yaml:"run_bucket"`
	UnitBucket   string `yaml:"unit_bucket"`
}

// WorkerConfig 任务 Worker 配置
type WorkerConfig struct {
	ID                 string        `yaml:"id"`
	DefaultConcurrency int           `yaml:"default_concurrency"`
	TimedConcurrency   int           `yaml:"timed_concurrency"`
	BlockTimeout       time.Duration `yaml:"block_timeout"`
	WorkDir            string        `yaml:"work_dir"`
}

// ToolConfig 可信工具镜像及其命令模板
type ToolConfig struct {
	Image   string   `yaml:"image"`
	Command []string `yaml:"command"`
}

type ToolsConfig struct {
	Deconstruct ToolConfig `yaml:"deconstruct"`
	Reconstruct ToolConfig `yaml:"reconstruct"`
	Search      ToolConfig `yaml:"search"`
}

// ReferenceConfig 参考数据集
type ReferenceConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type BuildConfig struct {
	Prefix     string   `yaml:"prefix"`
	Exclude    []string `yaml:"exclude"`
	Dockerfile string   `yaml:"dockerfile"`
}

// PipelineConfig 基准流水线配置
type PipelineConfig struct {
	Reference      ReferenceConfig `yaml:"reference"`
	TimedRuns      int             `yaml:"timed_runs"`
	Idempotency    string          `yaml:"idempotency"`
	SearchSuffixes []string        `yaml:"search_suffixes"`
	Tools          ToolsConfig     `yaml:"tools"`
	Build          BuildConfig     `yaml:"build"`
	// CodecNetwork 为 false 时用户编解码容器禁用网络
	CodecNetwork bool `yaml:"codec_network"`
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string
	DatabaseURL    string
	DatabaseName   string
	RedisURL       string
	APIServer      APIServerConfig
	MinIO          MinIOConfig
	Worker         WorkerConfig
	Pipeline       PipelineConfig
	Log            logging.Config
}

// Load 加载配置
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)

	yamlCfg := loadYAMLConfig(env)
	applyEnvOverrides(yamlCfg)

	cfg := &Config{
		Env:          env,
		APIServer:    yamlCfg.APIServer,
		MinIO:        yamlCfg.MinIO,
		Worker:       yamlCfg.Worker,
		Pipeline:     yamlCfg.Pipeline,
		Log:          yamlCfg.Log,
		RedisURL:     buildRedisURL(yamlCfg.Redis),
		DatabaseName: yamlCfg.Database.Name,
	}

	databaseURL := os.Getenv("DATABASE_URL")
	cfg.DatabaseDriver = detectDatabaseDriver(yamlCfg.Database.Driver, databaseURL)
	yamlCfg.Database.Driver = cfg.DatabaseDriver
	if databaseURL != "" {
		cfg.DatabaseURL = databaseURL
	} else {
		cfg.DatabaseURL = buildDatabaseURL(yamlCfg.Database, os.Getenv("DB_PASSWORD"))
	}

	cfg.fillDefaults()
	return cfg
}

// defaultYAMLConfig 默认值
func defaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		APIServer: APIServerConfig{Port: "8000", MaxUploadMB: 512, PrepareOnStart: true},
		Database:  DatabaseConfig{Driver: "sqlite", Host: "localhost", Port: 5432, User: "bench", Name: "codec_bench", SSLMode: "disable"},
		Redis:     RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		MinIO: MinIOConfig{
			Endpoint:     "localhost:9000",
			UploadBucket: "submission-uploads",
			RunBucket:    "run-bucket",
			UnitBucket:   "container-bucket",
		},
		Worker: WorkerConfig{
			DefaultConcurrency: 4,
			TimedConcurrency:   1,
			BlockTimeout:       5 * time.Second,
		},
		Pipeline: PipelineConfig{
			Reference:      ReferenceConfig{Name: "test.mzML"},
			TimedRuns:      5,
			Idempotency:    IdempotencyMarker,
			SearchSuffixes: []string{".pep.xml", ".pin", ".txt"},
			Tools: ToolsConfig{
				Deconstruct: ToolConfig{
					Image:   "ghcr.io/codec-bench/mzml-tools:latest",
					Command: []string{"deconstruct", "{input}", "{output_dir}"},
				},
				Reconstruct: ToolConfig{
					Image:   "ghcr.io/codec-bench/mzml-tools:latest",
					Command: []string{"reconstruct", "{meta}", "{payload}", "{output}"},
				},
				Search: ToolConfig{
					Image:   "ghcr.io/codec-bench/comet:latest",
					Command: []string{"comet", "-P/params/comet.params", "{input}"},
				},
			},
			Build: BuildConfig{
				Prefix:  "transform/",
				Exclude: []string{"__pycache__", ".git", ".venv", "node_modules", "__MACOSX"},
			},
		},
		Log: logging.Config{Level: "info", Format: "text", Output: "stdout"},
	}
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	cfg := defaultYAMLConfig()

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range effectiveConfigPaths(env) {
		path := filepath.Join(base, filename)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "[config] ignoring invalid %s: %v\n", path, err)
			continue
		}
		cfg.loadedFrom = path
		break
	}
	return cfg
}

// applyEnvOverrides 环境变量覆盖 YAML 配置
func applyEnvOverrides(cfg *YAMLConfig) {
	if v := os.Getenv("API_PORT"); v != "" {
		cfg.APIServer.Port = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")

	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	cfg.MinIO.AccessKey = firstEnv("MINIO_ROOT_USER", "MINIO_ACCESS_KEY")
	cfg.MinIO.SecretKey = firstEnv("MINIO_ROOT_PASSWORD", "MINIO_SECRET_KEY")

	if v := os.Getenv("TEST_MZML"); v != "" {
		cfg.Pipeline.Reference.Name = v
	}
	if v := os.Getenv("TEST_MZML_URL"); v != "" {
		cfg.Pipeline.Reference.URL = v
	}
	if v := os.Getenv("TIMED_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.TimedRuns = n
		}
	}
	if v := os.Getenv("WORKER_ID"); v != "" {
		cfg.Worker.ID = v
	}
	if v := os.Getenv("WORK_DIR"); v != "" {
		cfg.Worker.WorkDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// fillDefaults 验证并填充缺省值
func (c *Config) fillDefaults() {
	if c.Worker.ID == "" {
		host, _ := os.Hostname()
		c.Worker.ID = fmt.Sprintf("worker-%s-%d", host, os.Getpid())
	}
	if c.Worker.DefaultConcurrency <= 0 {
		c.Worker.DefaultConcurrency = 1
	}
	if c.Worker.TimedConcurrency <= 0 {
		c.Worker.TimedConcurrency = 1
	}
	if c.Worker.BlockTimeout <= 0 {
		c.Worker.BlockTimeout = 5 * time.Second
	}
	if c.Worker.WorkDir == "" {
		c.Worker.WorkDir = filepath.Join(os.TempDir(), "codec-bench")
	}
	if c.Pipeline.TimedRuns <= 0 {
		c.Pipeline.TimedRuns = 5
	}
	if c.Pipeline.Idempotency != IdempotencyListing {
		c.Pipeline.Idempotency = IdempotencyMarker
	}
	if !strings.HasSuffix(c.Pipeline.Build.Prefix, "/") {
		c.Pipeline.Build.Prefix += "/"
	}
}

// Validate 检查启动必需的配置项
func (c *Config) Validate() error {
	if c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "" {
		return fmt.Errorf("MINIO_ROOT_USER and MINIO_ROOT_PASSWORD are required")
	}
	if c.Pipeline.Reference.Name == "" {
		return fmt.Errorf("reference dataset name is required (TEST_MZML)")
	}
	return nil
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏密码）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Driver: %s, DB: %s, Redis: %s, MinIO: %s}",
		c.Env, c.DatabaseDriver, maskPassword(c.DatabaseURL), maskPassword(c.RedisURL), c.MinIO.Endpoint)
}
