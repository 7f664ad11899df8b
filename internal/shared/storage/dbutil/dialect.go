// Package dbutil 提供数据库方言抽象和工具函数
//
// 通过 Dialect 接口屏蔽不同数据库（PostgreSQL、SQLite、MySQL）的 SQL 差异，
// 使 repository 层可以编写与数据库无关的业务逻辑。
package dbutil

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// DriverType 数据库驱动类型
type DriverType string

const (
	DriverPostgres DriverType = "postgres"
	DriverSQLite   DriverType = "sqlite"
	DriverMySQL    DriverType = "mysql"
)

// ParseDriverType 解析驱动名称，未知名称返回错误
func ParseDriverType(name string) (DriverType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg":
		return DriverPostgres, nil
	case "sqlite", "sqlite3", "":
		return DriverSQLite, nil
	case "mysql":
		return DriverMySQL, nil
	}
	return "", fmt.Errorf("unsupported database driver: %s", name)
}

// Dialect 数据库方言接口
//
// 不同数据库的 SQL 语法差异通过该接口屏蔽：
//   - 占位符：PostgreSQL 用 $1, $2；MySQL/SQLite 用 ?
//   - 时间函数：PostgreSQL/MySQL 用 NOW()；SQLite 用 datetime('now')
//   - UPSERT：各数据库语法不同
//   - 自增主键回填：PostgreSQL 用 RETURNING，其他用 LastInsertId
type Dialect interface {
	// DriverType 返回驱动类型标识
	DriverType() DriverType

	// Rebind 将 PostgreSQL 风格的占位符 ($1, $2, ...) 转换为目标数据库的占位符格式
	Rebind(query string) string

	// CurrentTimestamp 返回当前时间戳的 SQL 表达式
	CurrentTimestamp() string

	// UpsertConflict 生成 UPSERT 的冲突处理子句
	// conflictColumn: 冲突检测列
	// updateExprs: 更新表达式列表，如 "status = EXCLUDED.status"
	UpsertConflict(conflictColumn string, updateExprs []string) string

	// SupportsReturning 是否支持 INSERT ... RETURNING id
	SupportsReturning() bool

	// AutoMigrate 自动创建/迁移数据库 Schema
	AutoMigrate(db *sql.DB) error
}

// Execer 同时被 *sql.DB 和 *sql.Tx 实现
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// pgPlaceholderRe 匹配 PostgreSQL 风格占位符 $1, $2, ...
var pgPlaceholderRe = regexp.MustCompile(`\$(\d+)`)

// pgCastRe 匹配 PostgreSQL 类型转换 ::type
var pgCastRe = regexp.MustCompile(`::(\w+)`)

// excludedRe 匹配 UPSERT 中的 EXCLUDED.col 引用
var excludedRe = regexp.MustCompile(`(?i)EXCLUDED\.(\w+)`)

// RebindToPositional 保持 $N 占位符不变（PostgreSQL 专用）
func RebindToPositional(query string) string {
	return query
}

// RebindToQuestion 将 $N 占位符转换为 ? （MySQL/SQLite 专用）
//
// 转换后按出现顺序绑定参数，因此 PG 风格 SQL 中同一占位符不能出现两次。
func RebindToQuestion(query string) string {
	return pgPlaceholderRe.ReplaceAllString(query, "?")
}

// StripPgCasts 去除 PostgreSQL 类型转换 (::varchar, ::text 等)
func StripPgCasts(query string) string {
	return pgCastRe.ReplaceAllString(query, "")
}

// ExcludedToValues 将 EXCLUDED.col 改写为 MySQL 的 VALUES(col)
func ExcludedToValues(expr string) string {
	return excludedRe.ReplaceAllString(expr, "VALUES($1)")
}

// JoinUpdates 拼接 UPSERT 更新表达式
func JoinUpdates(prefix string, updateExprs []string) string {
	return prefix + strings.Join(updateExprs, ", ")
}

// InsertReturningID 执行 INSERT 并返回自增主键
func InsertReturningID(ctx context.Context, d Dialect, q Execer, query string, args ...any) (int64, error) {
	if d.SupportsReturning() {
		var id int64
		err := q.QueryRowContext(ctx, d.Rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := q.ExecContext(ctx, d.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ExecStatements 逐条执行以分号分隔的 DDL 语句
func ExecStatements(db *sql.DB, schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// PlaceholderList 生成指定数量的占位符列表，如 "$1, $2, $3"
func PlaceholderList(start, count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
