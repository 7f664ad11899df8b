// Package repository TestScript / TestPlan 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"testexec-platform/internal/shared/model"
	"testexec-platform/internal/shared/storage"
	"testexec-platform/internal/shared/storage/dbutil"
)

// CreateScript 创建脚本并回填 ID
func (s *Store) CreateScript(ctx context.Context, script *model.TestScript) error {
	if script.CreatedAt.IsZero() {
		script.CreatedAt = time.Now()
	}
	id, err := dbutil.InsertReturningID(ctx, s.dialect, s.db, `
		INSERT INTO test_scripts (name, script_type, content, file_path, timeout_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		script.Name, script.ScriptType, nullString(script.Content), nullString(script.FilePath),
		script.TimeoutSeconds, dbTime(script.CreatedAt))
	if err != nil {
		return err
	}
	script.ID = id
	return nil
}

const scriptColumns = `s.id, s.name, s.script_type, COALESCE(s.content, ''), COALESCE(s.file_path, ''), s.timeout_seconds, s.created_at`

// GetScript 获取脚本，不存在时返回 nil, nil
func (s *Store) GetScript(ctx context.Context, id int64) (*model.TestScript, error) {
	query := s.rebind(`SELECT ` + scriptColumns + ` FROM test_scripts s WHERE s.id = $1`)
	script, err := scanScript(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return script, err
}

// CreatePlan 创建计划及其有序脚本列表
//
// 引用不存在的脚本时返回 ErrNotFound。
func (s *Store) CreatePlan(ctx context.Context, plan *model.TestPlan, scriptIDs []int64) error {
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, sid := range scriptIDs {
			var one int
			err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM test_scripts WHERE id = $1`), sid).Scan(&one)
			if err == sql.ErrNoRows {
				return fmt.Errorf("script %d: %w", sid, storage.ErrNotFound)
			}
			if err != nil {
				return err
			}
		}

		id, err := dbutil.InsertReturningID(ctx, s.dialect, tx, `
			INSERT INTO test_plans (name, description, execution_endpoint_type, created_at)
			VALUES ($1, $2, $3, $4)`,
			plan.Name, nullString(plan.Description), nullString(string(plan.ExecutionEndpointType)),
			dbTime(plan.CreatedAt))
		if err != nil {
			return err
		}

		insert := s.rebind(`INSERT INTO test_plan_scripts (plan_id, script_id, position) VALUES ($1, $2, $3)`)
		for pos, sid := range scriptIDs {
			if _, err := tx.ExecContext(ctx, insert, id, sid, pos); err != nil {
				return err
			}
		}
		plan.ID = id
		return nil
	})
}

// GetPlan 获取计划及按顺序排列的脚本，不存在时返回 nil, nil
func (s *Store) GetPlan(ctx context.Context, id int64) (*model.TestPlan, error) {
	plan := &model.TestPlan{}
	var (
		endpoint   string
		lastStatus sql.NullString
		lastTime   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, COALESCE(description, ''), COALESCE(execution_endpoint_type, ''),
		       last_execution_status, last_execution_time, created_at
		FROM test_plans WHERE id = $1`), id).Scan(
		&plan.ID, &plan.Name, &plan.Description, &endpoint, &lastStatus, &lastTime, &plan.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	plan.ExecutionEndpointType = model.EndpointType(endpoint)
	if lastStatus.Valid {
		st := model.ExecutionStatus(lastStatus.String)
		plan.LastExecutionStatus = &st
	}
	plan.LastExecutionTime = timePtr(lastTime)

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+scriptColumns+`
		FROM test_plan_scripts ps JOIN test_scripts s ON s.id = ps.script_id
		WHERE ps.plan_id = $1 ORDER BY ps.position`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	plan.Scripts = []*model.TestScript{}
	for rows.Next() {
		script, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		plan.Scripts = append(plan.Scripts, script)
	}
	return plan, rows.Err()
}

func scanScript(row rowScanner) (*model.TestScript, error) {
	script := &model.TestScript{}
	err := row.Scan(&script.ID, &script.Name, &script.ScriptType, &script.Content,
		&script.FilePath, &script.TimeoutSeconds, &script.CreatedAt)
	if err != nil {
		return nil, err
	}
	return script, nil
}
