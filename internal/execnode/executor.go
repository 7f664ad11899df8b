package execnode

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"testexec-platform/internal/execnode/engine"
	"testexec-platform/internal/shared/logstore"
	"testexec-platform/internal/shared/model"
)

// Coordinator 执行器调用的协调器接口
type Coordinator interface {
	GetTaskDetail(ctx context.Context, taskID int64) (*model.TaskDetail, error)
	GetPlan(ctx context.Context, planID int64) (*model.TestPlan, error)
	CreateLog(ctx context.Context, executionID, scriptID int64) (*model.PlanExecutionLog, error)
	UpdateLogStatus(ctx context.Context, logID int64, upd model.LogStatusUpdate) error
	UploadLog(ctx context.Context, key logstore.Key, logID int64, content []byte) error
	ReportTaskResult(ctx context.Context, taskID int64, result model.ScriptResult) error
}

// Runner 脚本执行，由 engine.Engine 实现
type Runner interface {
	Run(ctx context.Context, job engine.Job) model.ScriptResult
}

// Executor 执行分发来的计划与任务
type Executor struct {
	coord   Coordinator
	runner  Runner
	metrics *Metrics
	log     *zap.Logger
}

// NewExecutor 创建执行器
func NewExecutor(coord Coordinator, runner Runner, m *Metrics, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{coord: coord, runner: runner, metrics: m, log: log.Named("executor")}
}

// ExecutePlan 按顺序执行计划中的全部脚本
//
// 每个脚本依次：创建日志、执行、回报状态、上传完整日志。
// 单个脚本的回报失败不影响后续脚本，所有回报错误合并后返回。
func (e *Executor) ExecutePlan(ctx context.Context, planID, executionID int64) error {
	e.metrics.jobStarted()
	defer e.metrics.jobDone()

	log := e.log.With(zap.Int64("planId", planID), zap.Int64("executionId", executionID))
	plan, err := e.coord.GetPlan(ctx, planID)
	if err != nil {
		e.metrics.reportFailed("get_plan")
		return fmt.Errorf("load plan %d: %w", planID, err)
	}
	log.Info("plan execution started", zap.Int("scripts", len(plan.Scripts)))

	var errs []error
	for _, script := range plan.Scripts {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := e.runPlanScript(ctx, plan, executionID, script); err != nil {
			log.Error("script reporting failed", zap.Int64("scriptId", script.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	log.Info("plan execution finished", zap.Int("reportErrors", len(errs)))
	return errors.Join(errs...)
}

func (e *Executor) runPlanScript(ctx context.Context, plan *model.TestPlan, executionID int64, script *model.TestScript) error {
	entry, err := e.coord.CreateLog(ctx, executionID, script.ID)
	if err != nil {
		e.metrics.reportFailed("create_log")
		return fmt.Errorf("create log for script %d: %w", script.ID, err)
	}

	job := engine.JobFromScript(script, plan)
	job.ExecutionID = executionID
	result := e.runner.Run(ctx, job)
	e.metrics.scriptFinished(script.ScriptType, result)

	var errs []error
	err = e.coord.UpdateLogStatus(ctx, entry.ID, model.LogStatusUpdate{
		Status:        result.Status,
		Result:        result.Output,
		ErrorMessage:  result.Error,
		ExecutionTime: result.DurationMs,
	})
	if err != nil {
		e.metrics.reportFailed("update_log")
		errs = append(errs, fmt.Errorf("update log %d: %w", entry.ID, err))
	}

	key := logstore.Key{PlanID: plan.ID, ExecutionID: executionID, ScriptID: script.ID}
	if err := e.coord.UploadLog(ctx, key, entry.ID, []byte(result.CombinedLog())); err != nil {
		e.metrics.reportFailed("upload_log")
		errs = append(errs, fmt.Errorf("upload log %s: %w", key.Path(), err))
	}
	return errors.Join(errs...)
}

// ExecuteTask 执行单脚本任务并回报结果
//
// 读取任务失败时回报 FAILURE，避免任务停留在 RUNNING。
func (e *Executor) ExecuteTask(ctx context.Context, taskID int64) error {
	e.metrics.jobStarted()
	defer e.metrics.jobDone()

	log := e.log.With(zap.Int64("taskId", taskID))
	detail, err := e.coord.GetTaskDetail(ctx, taskID)
	if err != nil {
		e.metrics.reportFailed("get_task")
		log.Error("load task failed", zap.Error(err))
		result := model.ScriptResult{Status: model.RunStatusFailure, Error: "load task: " + err.Error()}
		if rerr := e.coord.ReportTaskResult(ctx, taskID, result); rerr != nil {
			e.metrics.reportFailed("task_result")
			return errors.Join(err, rerr)
		}
		return err
	}

	job := engine.JobFromScript(detail.Script, detail.Plan)
	job.TaskID = taskID
	result := e.runner.Run(ctx, job)
	e.metrics.scriptFinished(detail.Script.ScriptType, result)
	log.Info("task executed", zap.String("status", string(result.Status)), zap.Int64("durationMs", result.DurationMs))

	if err := e.coord.ReportTaskResult(ctx, taskID, result); err != nil {
		e.metrics.reportFailed("task_result")
		return fmt.Errorf("report task %d: %w", taskID, err)
	}
	return nil
}

