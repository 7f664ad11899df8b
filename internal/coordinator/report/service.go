// Package report 执行结果与日志回报
//
// 节点每执行完一个脚本，先回报日志状态，再上传完整日志。日志状态回报在一个事务内
// 完成：写入日志终态、原子累加执行计数器、计数用尽时终结执行并刷新计划的最近执行状态。
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"testexec-platform/internal/coordinator/metrics"
	"testexec-platform/internal/coordinator/monitor"
	"testexec-platform/internal/shared/apperr"
	"testexec-platform/internal/shared/logstore"
	"testexec-platform/internal/shared/model"
	"testexec-platform/internal/shared/storage"
)

// Store 回报所需的存储接口
type Store interface {
	storage.CatalogStore
	storage.TaskStore
	storage.ExecutionStore
}

// Service 回报服务
type Service struct {
	store   Store
	logs    logstore.Store
	pub     monitor.Publisher
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewService 创建回报服务，pub/m/log 可为 nil
func NewService(store Store, logs logstore.Store, pub monitor.Publisher, m *metrics.Metrics, log *zap.Logger) *Service {
	if pub == nil {
		pub = monitor.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   store,
		logs:    logs,
		pub:     pub,
		metrics: m,
		log:     log.Named("report"),
		now:     time.Now,
	}
}

// ============================================================================
// 计划执行日志
// ============================================================================

// CreateLog 节点开始执行脚本时创建 EXECUTING 日志
func (s *Service) CreateLog(ctx context.Context, executionID, scriptID int64) (*model.PlanExecutionLog, error) {
	exec, err := s.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.IsTerminal() {
		return nil, fmt.Errorf("execution %d is %s: %w", executionID, exec.Status, apperr.ErrInvalidState)
	}
	if err := s.checkPlanScript(ctx, exec, scriptID); err != nil {
		return nil, err
	}
	entry := &model.PlanExecutionLog{
		ExecutionID: executionID,
		ScriptID:    scriptID,
		Status:      model.ExecutionStatusExecuting,
		StartTime:   s.now(),
	}
	if err := s.store.CreateExecutionLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("create log for execution %d: %w", executionID, err)
	}
	s.pub.Publish(monitor.MsgExecutionLog, entry)
	return entry, nil
}

// checkPlanScript 脚本必须存在且属于执行所在的计划
func (s *Service) checkPlanScript(ctx context.Context, exec *model.PlanExecution, scriptID int64) error {
	script, err := s.store.GetScript(ctx, scriptID)
	if err != nil {
		return fmt.Errorf("get script %d: %w", scriptID, err)
	}
	if script == nil {
		return fmt.Errorf("script %d: %w", scriptID, apperr.ErrNotFound)
	}
	plan, err := s.store.GetPlan(ctx, exec.PlanID)
	if err != nil {
		return fmt.Errorf("get plan %d: %w", exec.PlanID, err)
	}
	if plan == nil {
		return fmt.Errorf("plan %d: %w", exec.PlanID, apperr.ErrNotFound)
	}
	for _, ps := range plan.Scripts {
		if ps.ID == scriptID {
			return nil
		}
	}
	return fmt.Errorf("script %d is not part of plan %d: %w", scriptID, plan.ID, apperr.ErrInvalidArgument)
}

// UpdateLogStatus 完成脚本日志并汇总到执行
//
// result 只保留前 30 个字符作为预览，errorMessage 原样保存。
// 同一日志重复完成返回 ErrInvalidState，计数器不会被重复累加。
func (s *Service) UpdateLogStatus(ctx context.Context, logID int64, upd model.LogStatusUpdate) (*model.PlanExecutionLog, *model.PlanExecution, error) {
	switch upd.Status {
	case model.RunStatusSuccess, model.RunStatusFailure, model.RunStatusTimeout:
	default:
		return nil, nil, fmt.Errorf("invalid log status %q: %w", upd.Status, apperr.ErrInvalidArgument)
	}

	exec, err := s.store.FinishExecutionLog(ctx, logID, storage.LogCompletion{
		Status:        upd.Status.ExecutionStatus(),
		Result:        model.PreviewResult(upd.Result),
		ErrorMessage:  upd.ErrorMessage,
		ExecutionTime: upd.ExecutionTime,
		EndTime:       s.now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, nil, fmt.Errorf("log %d: %w", logID, apperr.ErrNotFound)
		case errors.Is(err, storage.ErrConflict):
			return nil, nil, fmt.Errorf("log %d already finished: %w", logID, apperr.ErrInvalidState)
		}
		return nil, nil, fmt.Errorf("finish log %d: %w", logID, err)
	}
	s.metrics.RecordLogUpdate(string(upd.Status))

	entry, err := s.store.GetExecutionLog(ctx, logID)
	if err != nil {
		return nil, nil, err
	}
	s.pub.Publish(monitor.MsgExecutionLog, entry)
	s.pub.Publish(monitor.MsgExecution, exec)

	if exec.Status.IsTerminal() {
		s.metrics.RecordExecutionFinished(string(exec.Status))
		s.log.Info("plan execution finished",
			zap.Int64("executionId", exec.ID),
			zap.Int64("planId", exec.PlanID),
			zap.String("status", string(exec.Status)),
			zap.Int("success", exec.SuccessScripts),
			zap.Int("failed", exec.FailedScripts))
	}
	return entry, exec, nil
}

// GetExecution 获取执行
func (s *Service) GetExecution(ctx context.Context, executionID int64) (*model.PlanExecution, error) {
	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, fmt.Errorf("execution %d: %w", executionID, apperr.ErrNotFound)
	}
	return exec, nil
}

// ListExecutions 按计划列出执行，最近的在前
func (s *Service) ListExecutions(ctx context.Context, planID int64) ([]*model.PlanExecution, error) {
	return s.store.ListExecutionsByPlan(ctx, planID)
}

// ListLogs 列出执行的全部脚本日志
func (s *Service) ListLogs(ctx context.Context, executionID int64) ([]*model.PlanExecutionLog, error) {
	if _, err := s.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}
	return s.store.ListExecutionLogs(ctx, executionID)
}

// ============================================================================
// 任务结果
// ============================================================================

// RecordTaskResult 保存任务结果并完成 RUNNING 任务
//
// SUCCESS → COMPLETED，其余（FAILURE/TIMEOUT）→ FAILED。
func (s *Service) RecordTaskResult(ctx context.Context, taskID int64, result model.ScriptResult) (*model.ExecutionTask, error) {
	switch result.Status {
	case model.RunStatusSuccess, model.RunStatusFailure, model.RunStatusTimeout:
	default:
		return nil, fmt.Errorf("invalid result status %q: %w", result.Status, apperr.ErrInvalidArgument)
	}

	end := s.now()
	tr := storage.TaskTransition{
		From:    []model.TaskStatus{model.TaskStatusRunning},
		To:      model.TaskStatusCompleted,
		EndTime: &end,
	}
	if !result.Status.Succeeded() {
		tr.To = model.TaskStatusFailed
		tr.ErrorMessage = result.Error
		if tr.ErrorMessage == "" {
			tr.ErrorMessage = string(result.Status)
		}
	}
	err := s.store.RecordTaskResult(ctx, &model.TaskResult{
		TaskID:     taskID,
		Status:     result.Status,
		Output:     result.Output,
		Error:      result.Error,
		DurationMs: result.DurationMs,
		CreatedAt:  end,
	}, tr)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("task %d: %w", taskID, apperr.ErrNotFound)
		case errors.Is(err, storage.ErrConflict):
			return nil, fmt.Errorf("%v: %w", err, apperr.ErrInvalidState)
		}
		return nil, fmt.Errorf("record result for task %d: %w", taskID, err)
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	s.pub.Publish(monitor.MsgTask, task)
	s.log.Info("task result recorded",
		zap.Int64("taskId", taskID),
		zap.String("status", string(result.Status)),
		zap.Int64("durationMs", result.DurationMs))
	return task, nil
}

// GetTaskResult 获取任务最近一次结果
func (s *Service) GetTaskResult(ctx context.Context, taskID int64) (*model.TaskResult, error) {
	r, err := s.store.GetTaskResult(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("result of task %d: %w", taskID, apperr.ErrNotFound)
	}
	return r, nil
}

// ============================================================================
// 日志文件
// ============================================================================

// UploadLog 保存脚本完整日志
//
// logID 非零时校验它属于 key 指定的执行与脚本。
func (s *Service) UploadLog(ctx context.Context, key logstore.Key, logID int64, content []byte) error {
	if logID != 0 {
		entry, err := s.store.GetExecutionLog(ctx, logID)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("log %d: %w", logID, apperr.ErrNotFound)
		}
		if entry.ExecutionID != key.ExecutionID || entry.ScriptID != key.ScriptID {
			return fmt.Errorf("log %d belongs to execution %d script %d: %w",
				logID, entry.ExecutionID, entry.ScriptID, apperr.ErrInvalidArgument)
		}
	}
	if err := s.logs.Save(ctx, key, content); err != nil {
		return fmt.Errorf("save log %s: %w", key.Path(), err)
	}
	s.metrics.RecordLogUpload(len(content))
	s.log.Debug("log saved", zap.String("path", key.Path()), zap.Int("bytes", len(content)))
	return nil
}

// DownloadLog 打开脚本日志，调用方负责关闭
func (s *Service) DownloadLog(ctx context.Context, key logstore.Key) (io.ReadCloser, error) {
	return s.logs.Open(ctx, key)
}
