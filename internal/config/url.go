package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"testexec-platform/internal/shared/storage/dbutil"
)

// buildDatabaseURL 根据驱动类型构建数据库连接字符串
func buildDatabaseURL(driver dbutil.DriverType, db DatabaseConfig, password string) string {
	switch driver {
	case dbutil.DriverPostgres:
		port := db.Port
		if port == 0 {
			port = 5432
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			db.User, password, db.Host, port, db.Name, db.SSLMode)
	case dbutil.DriverMySQL:
		port := db.Port
		if port == 0 {
			port = 3306
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			db.User, password, db.Host, port, db.Name)
	default:
		path := db.Path
		if path == "" {
			path = "testexec.db"
		}
		return fmt.Sprintf("file:%s?cache=shared&mode=rwc", path)
	}
}

// detectDatabaseDriver 检测数据库驱动类型
// 优先级：YAML driver 字段 > DATABASE_URL 前缀自动检测 > 默认 sqlite
func detectDatabaseDriver(yamlDriver, databaseURL string) string {
	if d := strings.ToLower(yamlDriver); d == "sqlite" || d == "postgres" || d == "mysql" {
		return d
	}
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "postgres"
	case strings.Contains(databaseURL, "@tcp("):
		return "mysql"
	}
	return "sqlite"
}

// buildRedisURL 构建 Redis 连接字符串
func buildRedisURL(redis RedisConfig, password string) string {
	if password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d", password, redis.Host, redis.Port, redis.DB)
	}
	return fmt.Sprintf("redis://%s:%d/%d", redis.Host, redis.Port, redis.DB)
}

var (
	urlPasswordRe   = regexp.MustCompile(`(://[^:/@]*:)([^@]+)(@)`)
	mysqlPasswordRe = regexp.MustCompile(`^([^:/@]+:)([^@]+)(@tcp)`)
)

// maskPassword 隐藏密码
func maskPassword(url string) string {
	url = urlPasswordRe.ReplaceAllString(url, "${1}***${3}")
	return mysqlPasswordRe.ReplaceAllString(url, "${1}***${3}")
}

// parseEnv 解析环境字符串
func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

// getEnv 获取环境变量，支持默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
