package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// configDir --config 指定的目录，优先级最高
var configDir string

// SetConfigDir 设置配置文件目录（--config 参数）
func SetConfigDir(dir string) {
	if ext := filepath.Ext(dir); ext == ".yaml" || ext == ".yml" {
		dir = filepath.Dir(dir)
	}
	configDir = dir
}

// effectiveConfigPaths {env}.yaml 的搜索目录
//
// 优先级：--config > CONFIG_DIR > 生产环境 /etc/codec-bench，开发/测试向上查找 configs/
func effectiveConfigPaths(env Environment) []string {
	switch {
	case configDir != "":
		return []string{configDir}
	case os.Getenv("CONFIG_DIR") != "":
		return []string{os.Getenv("CONFIG_DIR")}
	case env == EnvProduction:
		return []string{"/etc/codec-bench"}
	}
	return []string{"configs", "../configs", "../../configs"}
}

// loadEnvFiles 加载第一个存在的 .env.{env} 或 .env
//
// 生产环境凭据由部署环境注入，不读 .env。godotenv.Load 不覆盖已存在的环境变量。
func loadEnvFiles(env Environment) {
	if env == EnvProduction {
		return
	}
	for _, dir := range []string{".", ".."} {
		for _, name := range []string{".env." + string(env), ".env"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			if err := godotenv.Load(path); err != nil {
				fmt.Fprintf(os.Stderr, "[config] ignoring %s: %v\n", path, err)
				continue
			}
			return
		}
	}
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	}
	return EnvDevelopment
}

// firstEnv 第一个非空的环境变量（MinIO 凭据有两套常见变量名）
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
