// Package repository ExecutionTask 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"testexec-platform/internal/shared/model"
	"testexec-platform/internal/shared/storage"
	"testexec-platform/internal/shared/storage/dbutil"
)

// CreateTask 创建任务并回填 ID
func (s *Store) CreateTask(ctx context.Context, task *model.ExecutionTask) error {
	if task.Status == "" {
		task.Status = model.TaskStatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	var planID sql.NullInt64
	if task.PlanID != nil {
		planID = sql.NullInt64{Int64: *task.PlanID, Valid: true}
	}
	id, err := dbutil.InsertReturningID(ctx, s.dialect, s.db, `
		INSERT INTO execution_tasks (plan_id, script_id, status, created_at)
		VALUES ($1, $2, $3, $4)`,
		planID, task.ScriptID, task.Status, dbTime(task.CreatedAt))
	if err != nil {
		return err
	}
	task.ID = id
	return nil
}

// GetTask 获取任务，不存在时返回 nil, nil
func (s *Store) GetTask(ctx context.Context, id int64) (*model.ExecutionTask, error) {
	task := &model.ExecutionTask{}
	var (
		planID     sql.NullInt64
		start, end sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, plan_id, script_id, status, COALESCE(execution_node_id, ''), COALESCE(error_message, ''),
		       start_time, end_time, created_at
		FROM execution_tasks WHERE id = $1`), id).Scan(
		&task.ID, &planID, &task.ScriptID, &task.Status, &task.ExecutionNodeID, &task.ErrorMessage,
		&start, &end, &task.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if planID.Valid {
		task.PlanID = &planID.Int64
	}
	task.StartTime = timePtr(start)
	task.EndTime = timePtr(end)
	return task, nil
}

// TransitionTask 带状态守卫的任务状态迁移
func (s *Store) TransitionTask(ctx context.Context, id int64, tr storage.TaskTransition) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.transitionTask(ctx, tx, id, tr)
	})
}

// RecordTaskResult 保存任务结果并在同一事务中迁移任务状态
func (s *Store) RecordTaskResult(ctx context.Context, result *model.TaskResult, tr storage.TaskTransition) error {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.transitionTask(ctx, tx, result.TaskID, tr); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO task_results (task_id, status, output, error, duration_ms, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`),
			result.TaskID, result.Status, result.Output, result.Error, result.DurationMs, dbTime(result.CreatedAt))
		return err
	})
}

// GetTaskResult 获取任务最近一次结果，不存在时返回 nil, nil
func (s *Store) GetTaskResult(ctx context.Context, taskID int64) (*model.TaskResult, error) {
	r := &model.TaskResult{}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT task_id, status, COALESCE(output, ''), COALESCE(error, ''), duration_ms, created_at
		FROM task_results WHERE task_id = $1 ORDER BY id DESC LIMIT 1`), taskID).Scan(
		&r.TaskID, &r.Status, &r.Output, &r.Error, &r.DurationMs, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) transitionTask(ctx context.Context, tx *sql.Tx, id int64, tr storage.TaskTransition) error {
	if len(tr.From) == 0 {
		return fmt.Errorf("task transition to %s: empty source states", tr.To)
	}
	args := []any{tr.To, nullString(tr.NodeID), nullString(tr.ErrorMessage),
		nullTime(tr.StartTime), nullTime(tr.EndTime), id}
	from := make([]string, len(tr.From))
	for i, st := range tr.From {
		args = append(args, st)
		from[i] = fmt.Sprintf("$%d", len(args))
	}
	query := s.rebind(fmt.Sprintf(`
		UPDATE execution_tasks
		SET status = $1,
		    execution_node_id = COALESCE($2, execution_node_id),
		    error_message = COALESCE($3, error_message),
		    start_time = COALESCE($4, start_time),
		    end_time = COALESCE($5, end_time)
		WHERE id = $6 AND status IN (%s)`, strings.Join(from, ", ")))
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var current model.TaskStatus
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT status FROM execution_tasks WHERE id = $1`), id).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("task %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("task %d is %s, want one of %v: %w", id, current, tr.From, storage.ErrConflict)
}
