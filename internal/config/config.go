// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env 加载敏感信息（密码、密钥）和 APP_ENV
//  2. 加载 configs/common.yaml，再加载 configs/{env}.yaml 覆盖
//  3. 环境变量覆盖 YAML 配置
//  4. validate 填充默认值并检查取值
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
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"testexec-platform/internal/shared/logger"
	objstore "testexec-platform/internal/shared/minio"
	"testexec-platform/internal/shared/storage/dbutil"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// configDir 通过 --config 指定的配置目录，优先于默认搜索路径
var configDir string

// SetConfigDir 设置配置目录（命令行 --config 参数）
func SetConfigDir(dir string) {
	configDir = dir
}

// GetConfigDir 返回当前生效的配置目录
func GetConfigDir() string {
	if configDir != "" {
		return configDir
	}
	for _, p := range configPathsForEnv(parseEnv(os.Getenv("APP_ENV"))) {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p
		}
	}
	return ""
}

// configPathsForEnv 生产环境优先 /etc/testexec，其它环境只在工作目录附近查找
func configPathsForEnv(env Environment) []string {
	if configDir != "" {
		return []string{configDir}
	}
	paths := []string{"configs", "../configs", "../../configs"}
	if env == EnvProduction {
		paths = append([]string{"/etc/testexec"}, paths...)
	}
	return paths
}

// envSearchDirs .env 的搜索目录
func envSearchDirs() []string {
	dirs := []string{".", "..", "../.."}
	if configDir != "" {
		dirs = append([]string{configDir, filepath.Dir(configDir)}, dirs...)
	}
	return dirs
}

// Load 加载配置
func Load() (*Config, error) {
	for _, dir := range envSearchDirs() {
		if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
			break
		}
	}

	env := parseEnv(getEnv("APP_ENV", "dev"))

	fc, err := loadYAMLConfig(env)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(fc)

	driver, err := dbutil.ParseDriverType(detectDatabaseDriver(fc.Database.Driver, os.Getenv("DATABASE_URL")))
	if err != nil {
		return nil, err
	}
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = buildDatabaseURL(driver, fc.Database, os.Getenv("DB_PASSWORD"))
	}

	cfg := &Config{
		Env:         env,
		Database:    DatabaseSettings{Driver: driver, DSN: dsn},
		Coordinator: fc.Coordinator,
		Node:        fc.Node,
		Log:         fc.Log,
		MinIO: objstore.Config{
			Endpoint:  fc.MinIO.Endpoint,
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    fc.MinIO.Bucket,
			UseSSL:    fc.MinIO.UseSSL,
		},
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.RedisURL = url
	} else if fc.Redis.Enabled {
		cfg.RedisURL = buildRedisURL(fc.Redis, os.Getenv("REDIS_PASSWORD"))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultFileConfig 内置默认值
func defaultFileConfig() *FileConfig {
	return &FileConfig{
		Coordinator: CoordinatorConfig{
			Port:       "8080",
			ScriptRoot: "scripts",
			Dispatch:   DispatchConfig{PoolSize: 10, QueueSize: 100, NodeTimeout: 30 * time.Second},
			Monitor:    MonitorConfig{Interval: 30 * time.Second, Timeout: 60 * time.Second},
			LogStore:   LogStoreConfig{Backend: "local", Dir: "logs"},
		},
		Node: NodeConfig{
			Host:              "127.0.0.1",
			Port:              8090,
			CoordinatorURL:    "http://127.0.0.1:8080",
			TempDir:           filepath.Join(os.TempDir(), "testexec"),
			HeartbeatInterval: 30 * time.Second,
			ScriptTimeout:     300 * time.Second,
			RequestTimeout:    30 * time.Second,
			PoolSize:          4,
			QueueSize:         50,
			Cleanup:           CleanupConfig{Schedule: "0 1 * * *", MaxAge: MinCleanupMaxAge},
		},
		Database: DatabaseConfig{Driver: "sqlite", Path: "testexec.db", Host: "localhost", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		Log:      logger.Config{Level: "info", Format: "console", Output: "stdout"},
	}
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) (*FileConfig, error) {
	cfg := defaultFileConfig()
	for _, name := range []string{"common.yaml", fmt.Sprintf("%s.yaml", env)} {
		for _, base := range configPathsForEnv(env) {
			path := filepath.Join(base, name)
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			break
		}
	}
	return cfg, nil
}

// applyEnvOverrides 环境变量覆盖 YAML
func applyEnvOverrides(fc *FileConfig) {
	fc.Database.Driver = getEnv("DB_DRIVER", fc.Database.Driver)
	fc.Coordinator.Port = getEnv("COORDINATOR_PORT", fc.Coordinator.Port)
	fc.Coordinator.LogStore.Backend = getEnv("LOG_STORE_BACKEND", fc.Coordinator.LogStore.Backend)
	fc.Node.NodeID = getEnv("NODE_ID", fc.Node.NodeID)
	fc.Node.Name = getEnv("NODE_NAME", fc.Node.Name)
	fc.Node.Host = getEnv("NODE_HOST", fc.Node.Host)
	fc.Node.CoordinatorURL = getEnv("COORDINATOR_URL", fc.Node.CoordinatorURL)
	if v, err := strconv.Atoi(os.Getenv("NODE_PORT")); err == nil {
		fc.Node.Port = v
	}
	fc.MinIO.Endpoint = getEnv("MINIO_ENDPOINT", fc.MinIO.Endpoint)
	fc.Log.Level = getEnv("LOG_LEVEL", fc.Log.Level)
}

// validate 填充默认值并检查取值
func (c *Config) validate() error {
	co := &c.Coordinator
	if co.Port == "" {
		co.Port = "8080"
	}
	if co.Dispatch.PoolSize <= 0 {
		co.Dispatch.PoolSize = 10
	}
	if co.Dispatch.QueueSize <= 0 {
		co.Dispatch.QueueSize = 100
	}
	if co.Dispatch.NodeTimeout <= 0 {
		co.Dispatch.NodeTimeout = 30 * time.Second
	}
	if co.Monitor.Interval <= 0 {
		co.Monitor.Interval = 30 * time.Second
	}
	if co.Monitor.Timeout <= 0 {
		co.Monitor.Timeout = 60 * time.Second
	}
	switch co.LogStore.Backend {
	case "", "local":
		co.LogStore.Backend = "local"
		if co.LogStore.Dir == "" {
			co.LogStore.Dir = "logs"
		}
	case "minio":
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("log_store backend minio requires minio.endpoint")
		}
	default:
		return fmt.Errorf("unknown log_store backend: %s", co.LogStore.Backend)
	}

	n := &c.Node
	if n.Port <= 0 || n.Port > 65535 {
		return fmt.Errorf("invalid node port: %d", n.Port)
	}
	if n.HeartbeatInterval <= 0 {
		n.HeartbeatInterval = 30 * time.Second
	}
	if n.ScriptTimeout <= 0 {
		n.ScriptTimeout = 300 * time.Second
	}
	if n.RequestTimeout <= 0 {
		n.RequestTimeout = 30 * time.Second
	}
	if n.PoolSize <= 0 {
		n.PoolSize = 4
	}
	if n.QueueSize <= 0 {
		n.QueueSize = 50
	}
	if n.Cleanup.Schedule == "" {
		n.Cleanup.Schedule = "0 1 * * *"
	}
	if n.Cleanup.MaxAge < MinCleanupMaxAge {
		n.Cleanup.MaxAge = MinCleanupMaxAge
	}
	return nil
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏密码）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Driver: %s, DB: %s, Redis: %s, LogStore: %s}",
		c.Env, c.Database.Driver, maskPassword(c.Database.DSN), maskPassword(c.RedisURL), c.Coordinator.LogStore.Backend)
}
