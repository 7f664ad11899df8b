// Package repository PlanExecution / PlanExecutionLog 相关的存储操作
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

const executionColumns = `id, plan_id, node_id, status, total_scripts, success_scripts, failed_scripts, start_time, end_time`

// CreateExecution 创建计划执行并回填 ID
func (s *Store) CreateExecution(ctx context.Context, exec *model.PlanExecution) error {
	id, err := dbutil.InsertReturningID(ctx, s.dialect, s.db, `
		INSERT INTO plan_executions (plan_id, node_id, status, total_scripts, success_scripts, failed_scripts, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		exec.PlanID, exec.NodeID, exec.Status, exec.TotalScripts, exec.SuccessScripts, exec.FailedScripts,
		dbTime(exec.StartTime), nullTime(exec.EndTime))
	if err != nil {
		return err
	}
	exec.ID = id
	return nil
}

// GetExecution 获取计划执行，不存在时返回 nil, nil
func (s *Store) GetExecution(ctx context.Context, id int64) (*model.PlanExecution, error) {
	return getExecution(ctx, s.db, s.rebind(`SELECT `+executionColumns+` FROM plan_executions WHERE id = $1`), id)
}

// ListExecutionsByPlan 按创建倒序列出计划的执行记录
func (s *Store) ListExecutionsByPlan(ctx context.Context, planID int64) ([]*model.PlanExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+executionColumns+` FROM plan_executions WHERE plan_id = $1 ORDER BY id DESC`), planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.PlanExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// CreateExecutionLog 创建脚本执行日志并回填 ID
func (s *Store) CreateExecutionLog(ctx context.Context, log *model.PlanExecutionLog) error {
	if log.Status == "" {
		log.Status = model.ExecutionStatusExecuting
	}
	if log.StartTime.IsZero() {
		log.StartTime = time.Now()
	}
	id, err := dbutil.InsertReturningID(ctx, s.dialect, s.db, `
		INSERT INTO plan_execution_logs (execution_id, script_id, status, execution_time, start_time)
		VALUES ($1, $2, $3, $4, $5)`,
		log.ExecutionID, log.ScriptID, log.Status, log.ExecutionTime, dbTime(log.StartTime))
	if err != nil {
		return err
	}
	log.ID = id
	return nil
}

const logColumns = `id, execution_id, script_id, status, COALESCE(result, ''), COALESCE(error_message, ''),
	execution_time, start_time, end_time`

// GetExecutionLog 获取执行日志，不存在时返回 nil, nil
func (s *Store) GetExecutionLog(ctx context.Context, id int64) (*model.PlanExecutionLog, error) {
	log, err := scanLog(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+logColumns+` FROM plan_execution_logs WHERE id = $1`), id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return log, err
}

// ListExecutionLogs 按创建顺序列出执行日志
func (s *Store) ListExecutionLogs(ctx context.Context, executionID int64) ([]*model.PlanExecutionLog, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+logColumns+` FROM plan_execution_logs WHERE execution_id = $1 ORDER BY id`), executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.PlanExecutionLog
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, log)
	}
	return out, rows.Err()
}

// FinishExecutionLog 完成脚本日志并推进计划执行
//
// 在一个事务内依次：
//  1. 仅当日志仍为 EXECUTING 时写入终态（保证每条日志只计数一次）
//  2. 以 SQL 自增累加成功或失败计数，计数之和不会超过 total_scripts
//  3. 计数之和达到 total_scripts 时终结执行：无失败为 SUCCESS，否则 FAILURE
//  4. 刷新计划的 last_execution_status / last_execution_time
func (s *Store) FinishExecutionLog(ctx context.Context, logID int64, c storage.LogCompletion) (*model.PlanExecution, error) {
	if !c.Status.IsTerminal() {
		return nil, fmt.Errorf("log %d: completion status %s is not terminal", logID, c.Status)
	}
	end := dbTime(c.EndTime)

	var exec *model.PlanExecution
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE plan_execution_logs
			SET status = $1, result = $2, error_message = $3, execution_time = $4, end_time = $5
			WHERE id = $6 AND status = 'EXECUTING'`),
			c.Status, nullString(c.Result), nullString(c.ErrorMessage), c.ExecutionTime, end, logID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		var (
			executionID int64
			logStatus   model.ExecutionStatus
		)
		err = tx.QueryRowContext(ctx, s.rebind(`SELECT execution_id, status FROM plan_execution_logs WHERE id = $1`), logID).
			Scan(&executionID, &logStatus)
		if err == sql.ErrNoRows {
			return fmt.Errorf("execution log %d: %w", logID, storage.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("execution log %d already %s: %w", logID, logStatus, storage.ErrConflict)
		}

		counter := "failed_scripts"
		if c.Status == model.ExecutionStatusSuccess {
			counter = "success_scripts"
		}
		if _, err := tx.ExecContext(ctx, s.rebind(fmt.Sprintf(`
			UPDATE plan_executions SET %[1]s = %[1]s + 1
			WHERE id = $1 AND status = 'EXECUTING' AND success_scripts + failed_scripts < total_scripts`, counter)),
			executionID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE plan_executions
			SET status = CASE WHEN failed_scripts = 0 THEN 'SUCCESS' ELSE 'FAILURE' END, end_time = $1
			WHERE id = $2 AND status = 'EXECUTING' AND success_scripts + failed_scripts >= total_scripts`),
			end, executionID); err != nil {
			return err
		}

		exec, err = getExecution(ctx, tx, s.rebind(`SELECT `+executionColumns+` FROM plan_executions WHERE id = $1`), executionID)
		if err != nil {
			return err
		}
		if exec == nil {
			return fmt.Errorf("plan execution %d: %w", executionID, storage.ErrNotFound)
		}

		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE test_plans
			SET last_execution_status = $1, last_execution_time = COALESCE($2, last_execution_time)
			WHERE id = $3`),
			exec.Status, nullTime(exec.EndTime), exec.PlanID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return exec, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getExecution(ctx context.Context, q queryRower, query string, id int64) (*model.PlanExecution, error) {
	exec, err := scanExecution(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return exec, err
}

func scanExecution(row rowScanner) (*model.PlanExecution, error) {
	exec := &model.PlanExecution{}
	var end sql.NullTime
	err := row.Scan(&exec.ID, &exec.PlanID, &exec.NodeID, &exec.Status, &exec.TotalScripts,
		&exec.SuccessScripts, &exec.FailedScripts, &exec.StartTime, &end)
	if err != nil {
		return nil, err
	}
	exec.EndTime = timePtr(end)
	return exec, nil
}

func scanLog(row rowScanner) (*model.PlanExecutionLog, error) {
	log := &model.PlanExecutionLog{}
	var end sql.NullTime
	err := row.Scan(&log.ID, &log.ExecutionID, &log.ScriptID, &log.Status, &log.Result, &log.ErrorMessage,
		&log.ExecutionTime, &log.StartTime, &end)
	if err != nil {
		return nil, err
	}
	log.EndTime = timePtr(end)
	return log, nil
}
