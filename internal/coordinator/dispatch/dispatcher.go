// Package dispatch 任务与计划分发
//
// 单脚本任务同步分发：请求返回时节点已接收任务或任务已标记失败。
// 计划分发先创建执行记录并立即返回，远程调用交给有界工作池异步完成，
// 远程调用失败只记录日志，执行记录保持 EXECUTING（不做补偿）。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"testexec-platform/internal/coordinator/metrics"
	"testexec-platform/internal/coordinator/monitor"
	"testexec-platform/internal/shared/apperr"
	"testexec-platform/internal/shared/model"
	"testexec-platform/internal/shared/storage"
	"testexec-platform/internal/shared/workerpool"
)

// NodeSelector 节点选择，由节点注册表实现
type NodeSelector interface {
	SelectAvailable(ctx context.Context) (*model.ExecutionNode, error)
	RequireOnline(ctx context.Context, nodeID string) (*model.ExecutionNode, error)
}

// Store 分发器所需的存储接口
type Store interface {
	storage.CatalogStore
	storage.TaskStore
	storage.ExecutionStore
}

// Dispatcher 分发器
type Dispatcher struct {
	store       Store
	nodes       NodeSelector
	client      NodeClient
	pool        *workerpool.Pool
	pub         monitor.Publisher
	metrics     *metrics.Metrics
	log         *zap.Logger
	callTimeout time.Duration
	now         func() time.Time
}

// Config 分发器依赖
type Config struct {
	Store   Store
	Nodes   NodeSelector
	Client  NodeClient
	Pool    *workerpool.Pool
	Pub     monitor.Publisher
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// CallTimeout 异步计划调用的超时
	CallTimeout time.Duration
}

// New 创建分发器
func New(cfg Config) *Dispatcher {
	if cfg.Pub == nil {
		cfg.Pub = monitor.NopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Dispatcher{
		store:       cfg.Store,
		nodes:       cfg.Nodes,
		client:      cfg.Client,
		pool:        cfg.Pool,
		pub:         cfg.Pub,
		metrics:     cfg.Metrics,
		log:         cfg.Logger.Named("dispatch"),
		callTimeout: cfg.CallTimeout,
		now:         time.Now,
	}
}

// DispatchTask 同步分发单脚本任务
//
// 没有可用节点时任务标记为 FAILED 并正常返回；节点调用失败时同样标记 FAILED。
func (d *Dispatcher) DispatchTask(ctx context.Context, taskID int64) (*model.ExecutionTask, error) {
	task, err := d.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", taskID, err)
	}
	if task == nil {
		return nil, fmt.Errorf("task %d: %w", taskID, apperr.ErrNotFound)
	}
	if task.Status != model.TaskStatusPending {
		return nil, fmt.Errorf("task %d is %s: %w", taskID, task.Status, apperr.ErrInvalidState)
	}

	node, err := d.nodes.SelectAvailable(ctx)
	if err != nil {
		if !errors.Is(err, apperr.ErrNodeUnavailable) {
			return nil, err
		}
		d.metrics.RecordDispatch("task", "no_node")
		d.log.Warn("no available node for task", zap.Int64("taskId", taskID))
		return d.failTask(ctx, taskID, model.TaskStatusPending, apperr.ErrNodeUnavailable.Error())
	}

	start := d.now()
	err = d.store.TransitionTask(ctx, taskID, storage.TaskTransition{
		From:      []model.TaskStatus{model.TaskStatusPending},
		To:        model.TaskStatusRunning,
		NodeID:    node.NodeID,
		StartTime: &start,
	})
	if err != nil {
		return nil, taskTransitionError(taskID, err)
	}
	d.log.Info("task dispatched", zap.Int64("taskId", taskID), zap.String("nodeId", node.NodeID))

	if err := d.client.ExecuteTask(ctx, node, taskID); err != nil {
		d.metrics.RecordDispatch("task", "failed")
		d.log.Error("execute task on node failed",
			zap.Int64("taskId", taskID), zap.String("nodeId", node.NodeID), zap.Error(err))
		return d.failTask(ctx, taskID, model.TaskStatusRunning, err.Error())
	}
	d.metrics.RecordDispatch("task", "sent")
	return d.publishTask(ctx, taskID)
}

// CompleteTask RUNNING → COMPLETED
func (d *Dispatcher) CompleteTask(ctx context.Context, taskID int64) (*model.ExecutionTask, error) {
	end := d.now()
	err := d.store.TransitionTask(ctx, taskID, storage.TaskTransition{
		From:    []model.TaskStatus{model.TaskStatusRunning},
		To:      model.TaskStatusCompleted,
		EndTime: &end,
	})
	if err != nil {
		return nil, taskTransitionError(taskID, err)
	}
	return d.publishTask(ctx, taskID)
}

// DispatchPlan 创建计划执行并异步通知节点
//
// nodeIDs 非空时使用第一个节点，且它必须在线；否则选择第一个在线节点。
// 没有脚本的计划直接以 SUCCESS 终结，不调用节点。
func (d *Dispatcher) DispatchPlan(ctx context.Context, planID int64, nodeIDs []string) (*model.PlanExecution, error) {
	plan, err := d.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("get plan %d: %w", planID, err)
	}
	if plan == nil {
		return nil, fmt.Errorf("plan %d: %w", planID, apperr.ErrNotFound)
	}

	var node *model.ExecutionNode
	if len(nodeIDs) > 0 && nodeIDs[0] != "" {
		node, err = d.nodes.RequireOnline(ctx, nodeIDs[0])
	} else {
		node, err = d.nodes.SelectAvailable(ctx)
	}
	if err != nil {
		d.metrics.RecordDispatch("plan", "no_node")
		return nil, err
	}

	now := d.now()
	exec := &model.PlanExecution{
		PlanID:       plan.ID,
		NodeID:       node.NodeID,
		Status:       model.ExecutionStatusExecuting,
		TotalScripts: len(plan.Scripts),
		StartTime:    now,
	}
	if exec.TotalScripts == 0 {
		exec.Status = model.ExecutionStatusSuccess
		exec.EndTime = &now
	}
	if err := d.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("create execution for plan %d: %w", planID, err)
	}
	d.pub.Publish(monitor.MsgExecution, exec)

	if exec.Status.IsTerminal() {
		d.log.Info("plan has no scripts, execution finished immediately",
			zap.Int64("planId", planID), zap.Int64("executionId", exec.ID))
		d.metrics.RecordExecutionFinished(string(exec.Status))
		return exec, nil
	}

	req := model.PlanDispatchRequest{PlanID: plan.ID, ExecutionID: exec.ID}
	if err := d.pool.Submit(func() { d.sendPlan(node, req) }); err != nil {
		d.metrics.RecordDispatch("plan", "queue_full")
		d.log.Error("submit plan dispatch failed",
			zap.Int64("planId", planID), zap.Int64("executionId", exec.ID), zap.Error(err))
	}
	d.metrics.SetQueueDepth(d.pool.Queued())
	d.log.Info("plan execution created",
		zap.Int64("planId", planID),
		zap.Int64("executionId", exec.ID),
		zap.String("nodeId", node.NodeID),
		zap.Int("scripts", exec.TotalScripts))
	return exec, nil
}

// sendPlan 在工作池中调用节点
func (d *Dispatcher) sendPlan(node *model.ExecutionNode, req model.PlanDispatchRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), d.callTimeout)
	defer cancel()

	if err := d.client.ExecutePlan(ctx, node, req); err != nil {
		d.metrics.RecordDispatch("plan", "failed")
		d.log.Error("execute plan on node failed",
			zap.Int64("planId", req.PlanID),
			zap.Int64("executionId", req.ExecutionID),
			zap.String("nodeId", node.NodeID),
			zap.Error(err))
		return
	}
	d.metrics.RecordDispatch("plan", "sent")
	d.metrics.SetQueueDepth(d.pool.Queued())
}

func (d *Dispatcher) failTask(ctx context.Context, taskID int64, from model.TaskStatus, msg string) (*model.ExecutionTask, error) {
	end := d.now()
	err := d.store.TransitionTask(ctx, taskID, storage.TaskTransition{
		From:         []model.TaskStatus{from},
		To:           model.TaskStatusFailed,
		ErrorMessage: msg,
		EndTime:      &end,
	})
	// 节点可能已经回报了结果
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		return nil, taskTransitionError(taskID, err)
	}
	return d.publishTask(ctx, taskID)
}

func (d *Dispatcher) publishTask(ctx context.Context, taskID int64) (*model.ExecutionTask, error) {
	task, err := d.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %d: %w", taskID, apperr.ErrNotFound)
	}
	d.pub.Publish(monitor.MsgTask, task)
	return task, nil
}

// taskTransitionError 存储层错误转换为领域错误
func taskTransitionError(taskID int64, err error) error {
	switch {
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%v: %w", err, apperr.ErrInvalidState)
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("task %d: %w", taskID, apperr.ErrNotFound)
	}
	return fmt.Errorf("update task %d: %w", taskID, err)
}
