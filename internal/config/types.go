package config

import (
	"time"

	"testexec-platform/internal/shared/logger"
	objstore "testexec-platform/internal/shared/minio"
	"testexec-platform/internal/shared/storage/dbutil"
)

// ============================================================================
// YAML 文件结构
// ============================================================================

// FileConfig YAML 配置文件结构
type FileConfig struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Node        NodeConfig        `yaml:"node"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Log         logger.Config     `yaml:"log"`
}

// CoordinatorConfig 协调器配置
type CoordinatorConfig struct {
	Port string `yaml:"port"`
	// ScriptRoot 脚本文件根目录，/api/scripts/download 只允许读取其下文件
	ScriptRoot string         `yaml:"script_root"`
	Dispatch   DispatchConfig `yaml:"dispatch"`
	Monitor    MonitorConfig  `yaml:"monitor"`
	LogStore   LogStoreConfig `yaml:"log_store"`
}

// DispatchConfig 分发器配置
type DispatchConfig struct {
	PoolSize  int `yaml:"pool_size"`
	QueueSize int `yaml:"queue_size"`
	// NodeTimeout 调用节点 HTTP 接口的超时
	NodeTimeout time.Duration `yaml:"node_timeout"`
}

// MonitorConfig 心跳巡检配置
type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LogStoreConfig 日志存储配置
type LogStoreConfig struct {
	Backend string `yaml:"backend"` // local, minio
	Dir     string `yaml:"dir"`
}

// NodeConfig 执行节点配置
type NodeConfig struct {
	NodeID         string `yaml:"node_id"`
	Name           string `yaml:"name"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	CoordinatorURL string `yaml:"coordinator_url"`
	// TempDir 脚本暂存根目录，按日期分子目录
	TempDir string `yaml:"temp_dir"`
	// ScriptsDir 子进程工作目录，不存在时使用进程当前目录
	ScriptsDir        string        `yaml:"scripts_dir"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ScriptTimeout     time.Duration `yaml:"script_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	PoolSize          int           `yaml:"pool_size"`
	QueueSize         int           `yaml:"queue_size"`
	Cleanup           CleanupConfig `yaml:"cleanup"`
}

// CleanupConfig 暂存文件清理配置
type CleanupConfig struct {
	// Schedule cron 表达式（5 段）
	Schedule string `yaml:"schedule"`
	// MaxAge 超过该时长的暂存文件会被清理，不低于 MinCleanupMaxAge
	MaxAge time.Duration `yaml:"max_age"`
}

// MinCleanupMaxAge 暂存目录最短保留时长
//
// 日期目录从当天零点算起，23:59 暂存的脚本次日凌晨可能仍在运行，因此至少保留两天。
const MinCleanupMaxAge = 48 * time.Hour

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver  string `yaml:"driver"` // sqlite, postgres, mysql
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`
	Name    string `yaml:"name"`
	SSLMode string `yaml:"sslmode"`
	Path    string `yaml:"path"` // SQLite 文件路径
}

// RedisConfig Redis 配置，Enabled 为 false 时不镜像心跳
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DB      int    `yaml:"db"`
}

// MinIOConfig MinIO 配置，密钥只从环境变量读取
type MinIOConfig struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	UseSSL   bool   `yaml:"use_ssl"`
}

// ============================================================================
// 最终配置
// ============================================================================

// DatabaseSettings 解析后的数据库连接信息
type DatabaseSettings struct {
	Driver dbutil.DriverType
	DSN    string
}

// Config 应用配置（最终使用的配置）
//
// Load 之后不再修改，各组件只接收自己需要的子配置。
type Config struct {
	Env         Environment
	Database    DatabaseSettings
	RedisURL    string // 为空表示未启用
	MinIO       objstore.Config
	Coordinator CoordinatorConfig
	Node        NodeConfig
	Log         logger.Config
}
