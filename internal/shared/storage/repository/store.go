// Package repository 数据库无关的业务逻辑存储层
//
// 通过 dbutil.Dialect 接口屏蔽不同数据库的 SQL 差异，
// 所有 SQL 以 PostgreSQL 风格编写，运行时由 Dialect.Rebind() 转换。
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"testexec-platform/internal/shared/storage"
	"testexec-platform/internal/shared/storage/dbutil"
	mysqldriver "testexec-platform/internal/shared/storage/driver/mysql"
	pgdriver "testexec-platform/internal/shared/storage/driver/postgres"
	sqlitedriver "testexec-platform/internal/shared/storage/driver/sqlite"
)

// Store 通用存储实现
// 实现了 storage.PersistentStore 接口
type Store struct {
	db      *sql.DB
	dialect dbutil.Dialect
}

var _ storage.PersistentStore = (*Store)(nil)

// NewStore 创建通用存储
func NewStore(db *sql.DB, dialect dbutil.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// Open 根据驱动类型和 DSN 打开数据库并创建存储
//
// migrate 为 true 时执行 AutoMigrate。
func Open(driver dbutil.DriverType, dsn string, migrate bool) (*Store, error) {
	var (
		db      *sql.DB
		dialect dbutil.Dialect
		err     error
	)
	switch driver {
	case dbutil.DriverSQLite:
		db, err = sqlitedriver.Open(dsn)
		dialect = sqlitedriver.NewDialect()
	case dbutil.DriverPostgres:
		db, err = pgdriver.Open(dsn)
		dialect = pgdriver.NewDialect()
	case dbutil.DriverMySQL:
		db, err = mysqldriver.Open(dsn)
		dialect = mysqldriver.NewDialect()
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := dialect.AutoMigrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s auto-migrate failed: %w", driver, err)
		}
	}
	return NewStore(db, dialect), nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// DB 返回底层数据库连接（仅用于测试）
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect 返回当前方言
func (s *Store) Dialect() dbutil.Dialect {
	return s.dialect
}

// rebind 快捷方法：将 PG 风格 SQL 转换为当前方言
func (s *Store) rebind(query string) string {
	return s.dialect.Rebind(query)
}

// now 返回当前时间戳 SQL 表达式
func (s *Store) now() string {
	return s.dialect.CurrentTimestamp()
}

// withTx 在事务中执行 fn，fn 返回错误时回滚
//
// fn 内只能使用 tx，SQLite 单连接下再访问 s.db 会死锁。
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// dbTime 统一以 UTC 存储时间，并去除单调时钟读数
func dbTime(t time.Time) time.Time {
	return t.UTC().Round(0)
}

// nullTime 将可空时间指针转换为绑定参数
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: dbTime(*t), Valid: true}
}

// nullString 空字符串绑定为 NULL
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// timePtr 将扫描出的 NullTime 转换为指针
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
