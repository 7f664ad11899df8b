// Package sqlite SQLite 数据库驱动
//
// 提供 SQLite 连接管理、方言实现和自动 Schema 迁移。
// 适用于开发、测试和单机部署场景。
package sqlite

import (
	"database/sql"
	"fmt"

	"testexec-platform/internal/shared/storage/dbutil"

	_ "modernc.org/sqlite"
)

// Dialect SQLite 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverSQLite
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.StripPgCasts(dbutil.RebindToQuestion(query))
}

func (d *Dialect) CurrentTimestamp() string {
	return "datetime('now')"
}

func (d *Dialect) UpsertConflict(conflictColumn string, updateExprs []string) string {
	return dbutil.JoinUpdates(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET ", conflictColumn), updateExprs)
}

func (d *Dialect) SupportsReturning() bool {
	return false
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Open 创建 SQLite 数据库连接
// dsn 示例: "file:testexec.db?cache=shared&mode=rwc" 或 ":memory:"
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite 只允许单写者；单连接同时保证 :memory: 库在各查询间共享
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return db, nil
}

// NewDialect 创建 SQLite 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

// schema SQLite 完整建表语句（与 PostgreSQL/MySQL 版本字段一一对应）
const schema = `
CREATE TABLE IF NOT EXISTS execution_nodes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    node_id VARCHAR(128) NOT NULL UNIQUE,
    name VARCHAR(200),
    host VARCHAR(255) NOT NULL,
    port INTEGER NOT NULL,
    os_info VARCHAR(255),
    cpu_info VARCHAR(255),
    memory_info VARCHAR(255),
    status VARCHAR(16) NOT NULL DEFAULT 'ONLINE',
    last_heartbeat DATETIME,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS test_scripts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name VARCHAR(200) NOT NULL,
    script_type VARCHAR(32) NOT NULL,
    content TEXT,
    file_path VARCHAR(512),
    timeout_seconds INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS test_plans (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name VARCHAR(200) NOT NULL,
    description TEXT,
    execution_endpoint_type VARCHAR(32),
    last_execution_status VARCHAR(16),
    last_execution_time DATETIME,
    created_at DATETIME DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS test_plan_scripts (
    plan_id INTEGER NOT NULL REFERENCES test_plans(id) ON DELETE CASCADE,
    script_id INTEGER NOT NULL REFERENCES test_scripts(id),
    position INTEGER NOT NULL,
    PRIMARY KEY (plan_id, position)
);

CREATE TABLE IF NOT EXISTS plan_executions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    plan_id INTEGER NOT NULL REFERENCES test_plans(id),
    node_id VARCHAR(128) NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'EXECUTING',
    total_scripts INTEGER NOT NULL DEFAULT 0,
    success_scripts INTEGER NOT NULL DEFAULT 0,
    failed_scripts INTEGER NOT NULL DEFAULT 0,
    start_time DATETIME NOT NULL,
    end_time DATETIME
);

CREATE INDEX IF NOT EXISTS idx_plan_executions_plan ON plan_executions(plan_id);

CREATE TABLE IF NOT EXISTS plan_execution_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_id INTEGER NOT NULL REFERENCES plan_executions(id),
    script_id INTEGER NOT NULL REFERENCES test_scripts(id),
    status VARCHAR(16) NOT NULL DEFAULT 'EXECUTING',
    result VARCHAR(64),
    error_message TEXT,
    execution_time INTEGER NOT NULL DEFAULT 0,
    start_time DATETIME NOT NULL,
    end_time DATETIME
);

CREATE INDEX IF NOT EXISTS idx_plan_execution_logs_execution ON plan_execution_logs(execution_id);

CREATE TABLE IF NOT EXISTS execution_tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    plan_id INTEGER REFERENCES test_plans(id),
    script_id INTEGER NOT NULL REFERENCES test_scripts(id),
    status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
    execution_node_id VARCHAR(128),
    error_message TEXT,
    start_time DATETIME,
    end_time DATETIME,
    created_at DATETIME DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS task_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id INTEGER NOT NULL REFERENCES execution_tasks(id),
    status VARCHAR(16) NOT NULL,
    output TEXT,
    error TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT (datetime('now'))
);
`
