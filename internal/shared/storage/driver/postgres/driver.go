// Package postgres PostgreSQL 数据库驱动
//
// 提供 PostgreSQL 连接管理、方言实现和 Schema 迁移。
package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"testexec-platform/internal/shared/storage/dbutil"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect PostgreSQL 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverPostgres
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.RebindToPositional(query)
}

func (d *Dialect) CurrentTimestamp() string {
	return "NOW()"
}

func (d *Dialect) UpsertConflict(conflictColumn string, updateExprs []string) string {
	return dbutil.JoinUpdates(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET ", conflictColumn), updateExprs)
}

func (d *Dialect) SupportsReturning() bool {
	return true
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	return dbutil.ExecStatements(db, schema)
}

// Open 创建 PostgreSQL 数据库连接
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}

// NewDialect 创建 PostgreSQL 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

const schema = `
CREATE TABLE IF NOT EXISTS execution_nodes (
    id BIGSERIAL PRIMARY KEY,
    node_id VARCHAR(128) NOT NULL UNIQUE,
    name VARCHAR(200),
    host VARCHAR(255) NOT NULL,
    port INTEGER NOT NULL,
    os_info VARCHAR(255),
    cpu_info VARCHAR(255),
    memory_info VARCHAR(255),
    status VARCHAR(16) NOT NULL DEFAULT 'ONLINE',
    last_heartbeat TIMESTAMPTZ,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS test_scripts (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    script_type VARCHAR(32) NOT NULL,
    content TEXT,
    file_path VARCHAR(512),
    timeout_seconds INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS test_plans (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    description TEXT,
    execution_endpoint_type VARCHAR(32),
    last_execution_status VARCHAR(16),
    last_execution_time TIMESTAMPTZ,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS test_plan_scripts (
    plan_id BIGINT NOT NULL REFERENCES test_plans(id) ON DELETE CASCADE,
    script_id BIGINT NOT NULL REFERENCES test_scripts(id),
    position INTEGER NOT NULL,
    PRIMARY KEY (plan_id, position)
);

CREATE TABLE IF NOT EXISTS plan_executions (
    id BIGSERIAL PRIMARY KEY,
    plan_id BIGINT NOT NULL REFERENCES test_plans(id),
    node_id VARCHAR(128) NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'EXECUTING',
    total_scripts INTEGER NOT NULL DEFAULT 0,
    success_scripts INTEGER NOT NULL DEFAULT 0,
    failed_scripts INTEGER NOT NULL DEFAULT 0,
    start_time TIMESTAMPTZ NOT NULL,
    end_time TIMESTAMPTZ,
    CHECK (success_scripts + failed_scripts <= total_scripts)
);

CREATE INDEX IF NOT EXISTS idx_plan_executions_plan ON plan_executions(plan_id);

CREATE TABLE IF NOT EXISTS plan_execution_logs (
    id BIGSERIAL PRIMARY KEY,
    execution_id BIGINT NOT NULL REFERENCES plan_executions(id),
    script_id BIGINT NOT NULL REFERENCES test_scripts(id),
    status VARCHAR(16) NOT NULL DEFAULT 'EXECUTING',
    result VARCHAR(64),
    error_message TEXT,
    execution_time BIGINT NOT NULL DEFAULT 0,
    start_time TIMESTAMPTZ NOT NULL,
    end_time TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_plan_execution_logs_execution ON plan_execution_logs(execution_id);

CREATE TABLE IF NOT EXISTS execution_tasks (
    id BIGSERIAL PRIMARY KEY,
    plan_id BIGINT REFERENCES test_plans(id),
    script_id BIGINT NOT NULL REFERENCES test_scripts(id),
    status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
    execution_node_id VARCHAR(128),
    error_message TEXT,
    start_time TIMESTAMPTZ,
    end_time TIMESTAMPTZ,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS task_results (
    id BIGSERIAL PRIMARY KEY,
    task_id BIGINT NOT NULL REFERENCES execution_tasks(id),
    status VARCHAR(16) NOT NULL,
    output TEXT,
    error TEXT,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ DEFAULT NOW()
)
`
