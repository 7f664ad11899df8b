// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在 repository 子包中，通过 dbutil.Dialect 支持 SQLite/PostgreSQL/MySQL
//   - 初始化时通过依赖注入传入实现
package storage

import (
	"context"
	"time"

	"testexec-platform/internal/shared/model"
)

// ============================================================================
// 节点存储
// ============================================================================

// NodeStore 执行节点存储接口
type NodeStore interface {
	// UpsertNode 按 nodeId 注册或刷新节点，状态强制为 ONLINE 并记录心跳时间
	UpsertNode(ctx context.Context, reg *model.NodeRegistration, now time.Time) (*model.ExecutionNode, error)
	GetNode(ctx context.Context, nodeID string) (*model.ExecutionNode, error)
	// TouchNodeHeartbeat 刷新心跳；ONLINE/BUSY 保持不变，其他状态提升为 ONLINE
	TouchNodeHeartbeat(ctx context.Context, nodeID string, now time.Time) (*model.ExecutionNode, error)
	UpdateNodeStatus(ctx context.Context, nodeID string, status model.NodeStatus, now time.Time) error
	// DemoteStaleNode 条件降级：仅当心跳仍早于 cutoff 时置为 OFFLINE，返回是否有行被更新
	DemoteStaleNode(ctx context.Context, nodeID string, cutoff, now time.Time) (bool, error)
	DeleteNode(ctx context.Context, nodeID string) error
	// ListNodes 按注册顺序列出节点
	ListNodes(ctx context.Context) ([]*model.ExecutionNode, error)
	ListNodesByStatus(ctx context.Context, status model.NodeStatus) ([]*model.ExecutionNode, error)
}

// ============================================================================
// 脚本与计划存储
// ============================================================================

// CatalogStore 测试脚本与测试计划存储接口
type CatalogStore interface {
	CreateScript(ctx context.Context, script *model.TestScript) error
	GetScript(ctx context.Context, id int64) (*model.TestScript, error)
	CreatePlan(ctx context.Context, plan *model.TestPlan, scriptIDs []int64) error
	// GetPlan 返回计划及按顺序排列的脚本
	GetPlan(ctx context.Context, id int64) (*model.TestPlan, error)
}

// ============================================================================
// 任务存储
// ============================================================================

// TaskTransition 任务状态迁移
//
// 仅当任务当前状态属于 From 时才会生效；零值字段不覆盖已有值。
type TaskTransition struct {
	From         []model.TaskStatus
	To           model.TaskStatus
	NodeID       string
	ErrorMessage string
	StartTime    *time.Time
	EndTime      *time.Time
}

// TaskStore 执行任务存储接口
type TaskStore interface {
	CreateTask(ctx context.Context, task *model.ExecutionTask) error
	GetTask(ctx context.Context, id int64) (*model.ExecutionTask, error)
	// TransitionTask 状态不匹配时返回 ErrConflict，任务不存在时返回 ErrNotFound
	TransitionTask(ctx context.Context, id int64, tr TaskTransition) error
	// RecordTaskResult 在同一事务中保存结果并完成 RUNNING 任务
	RecordTaskResult(ctx context.Context, result *model.TaskResult, tr TaskTransition) error
	GetTaskResult(ctx context.Context, taskID int64) (*model.TaskResult, error)
}

// ============================================================================
// 计划执行存储
// ============================================================================

// LogCompletion 脚本日志的终态写入
type LogCompletion struct {
	Status        model.ExecutionStatus
	Result        string
	ErrorMessage  string
	ExecutionTime int64
	EndTime       time.Time
}

// ExecutionStore 计划执行与执行日志存储接口
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *model.PlanExecution) error
	GetExecution(ctx context.Context, id int64) (*model.PlanExecution, error)
	ListExecutionsByPlan(ctx context.Context, planID int64) ([]*model.PlanExecution, error)

	CreateExecutionLog(ctx context.Context, log *model.PlanExecutionLog) error
	GetExecutionLog(ctx context.Context, id int64) (*model.PlanExecutionLog, error)
	ListExecutionLogs(ctx context.Context, executionID int64) ([]*model.PlanExecutionLog, error)

	// FinishExecutionLog 原子地完成日志、累加计数器、在计数用尽时终结执行并刷新计划的最近执行状态
	//
	// 同一日志只会被计数一次：重复完成返回 ErrConflict。
	FinishExecutionLog(ctx context.Context, logID int64, c LogCompletion) (*model.PlanExecution, error)
}

// ============================================================================
// 聚合接口
// ============================================================================

// PersistentStore 持久化存储聚合接口
type PersistentStore interface {
	NodeStore
	CatalogStore
	TaskStore
	ExecutionStore
	Close() error
}
