// Package mysql MySQL 数据库驱动
//
// 提供 MySQL 连接管理、方言实现和 Schema 迁移（要求 MySQL 8.0+）。
package mysql

import (
	"database/sql"
	"fmt"
	"time"

	"testexec-platform/internal/shared/storage/dbutil"

	"github.com/go-sql-driver/mysql"
)

// Dialect MySQL 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverMySQL
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.StripPgCasts(dbutil.RebindToQuestion(query))
}

func (d *Dialect) CurrentTimestamp() string {
	return "NOW()"
}

// UpsertConflict MySQL 使用 ON DUPLICATE KEY UPDATE，冲突列由唯一索引决定
func (d *Dialect) UpsertConflict(_ string, updateExprs []string) string {
	exprs := make([]string, len(updateExprs))
	for i, expr := range updateExprs {
		exprs[i] = dbutil.ExcludedToValues(expr)
	}
	return dbutil.JoinUpdates("ON DUPLICATE KEY UPDATE ", exprs)
}

func (d *Dialect) SupportsReturning() bool {
	return false
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	return dbutil.ExecStatements(db, schema)
}

// Open 创建 MySQL 数据库连接
//
// 强制 parseTime 以便 DATETIME 列直接扫描为 time.Time；
// clientFoundRows 让 RowsAffected 返回匹配行数，与 PostgreSQL/SQLite 语义一致。
func Open(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}

	return db, nil
}

// NewDialect 创建 MySQL 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

const schema = `
CREATE TABLE IF NOT EXISTS execution_nodes (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    node_id VARCHAR(128) NOT NULL UNIQUE,
    name VARCHAR(200),
    host VARCHAR(255) NOT NULL,
    port INT NOT NULL,
    os_info VARCHAR(255),
    cpu_info VARCHAR(255),
    memory_info VARCHAR(255),
    status VARCHAR(16) NOT NULL DEFAULT 'ONLINE',
    last_heartbeat DATETIME(3),
    created_at DATETIME(3) DEFAULT CURRENT_TIMESTAMP(3),
    updated_at DATETIME(3) DEFAULT CURRENT_TIMESTAMP(3)
);

CREATE TABLE IF NOT EXISTS test_scripts (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    script_type VARCHAR(32) NOT NULL,
    content LONGTEXT,
    file_path VARCHAR(512),
    timeout_seconds INT NOT NULL DEFAULT 0,
    created_at DATETIME(3) DEFAULT CURRENT_TIMESTAMP(3)
);

CREATE TABLE IF NOT EXISTS test_plans (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    description TEXT,
    execution_endpoint_type VARCHAR(32),
    last_execution_status VARCHAR(16),
    last_execution_time DATETIME(3),
    created_at DATETIME(3) DEFAULT CURRENT_TIMESTAMP(3)
);

CREATE TABLE IF NOT EXISTS test_plan_scripts (
    plan_id BIGINT NOT NULL,
    script_id BIGINT NOT NULL,
    position INT NOT NULL,
    PRIMARY KEY (plan_id, position),
    FOREIGN KEY (plan_id) REFERENCES test_plans(id) ON DELETE CASCADE,
    FOREIGN KEY (script_id) REFERENCES test_scripts(id)
);

CREATE TABLE IF NOT EXISTS plan_executions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    plan_id BIGINT NOT NULL,
    node_id VARCHAR(128) NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'EXECUTING',
    total_scripts INT NOT NULL DEFAULT 0,
    success_scripts INT NOT NULL DEFAULT 0,
    failed_scripts INT NOT NULL DEFAULT 0,
    start_time DATETIME(3) NOT NULL,
    end_time DATETIME(3),
    INDEX idx_plan_executions_plan (plan_id),
    FOREIGN KEY (plan_id) REFERENCES test_plans(id)
);

CREATE TABLE IF NOT EXISTS plan_execution_logs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    execution_id BIGINT NOT NULL,
    script_id BIGINT NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'EXECUTING',
    result VARCHAR(64),
    error_message LONGTEXT,
    execution_time BIGINT NOT NULL DEFAULT 0,
    start_time DATETIME(3) NOT NULL,
    end_time DATETIME(3),
    INDEX idx_plan_execution_logs_execution (execution_id),
    FOREIGN KEY (execution_id) REFERENCES plan_executions(id),
    FOREIGN KEY (script_id) REFERENCES test_scripts(id)
);

CREATE TABLE IF NOT EXISTS execution_tasks (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    plan_id BIGINT,
    script_id BIGINT NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
    execution_node_id VARCHAR(128),
    error_message TEXT,
    start_time DATETIME(3),
    end_time DATETIME(3),
    created_at DATETIME(3) DEFAULT CURRENT_TIMESTAMP(3),
    FOREIGN KEY (plan_id) REFERENCES test_plans(id),
    FOREIGN KEY (script_id) REFERENCES test_scripts(id)
);

CREATE TABLE IF NOT EXISTS task_results (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    task_id BIGINT NOT NULL,
    status VARCHAR(16) NOT NULL,
    output LONGTEXT,
    error LONGTEXT,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    created_at DATETIME(3) DEFAULT CURRENT_TIMESTAMP(3),
    FOREIGN KEY (task_id) REFERENCES execution_tasks(id)
)
`
