// Package model 定义核心数据模型
//
// task.go 包含单脚本任务相关的数据模型定义：
//   - ExecutionTask：单脚本执行任务
//   - TaskStatus：任务状态枚举
//   - RunStatus / ScriptResult：脚本执行结果
package model

import (
	"time"
)

// TaskStatus 任务状态
//
//	PENDING → RUNNING → FAILED | COMPLETED
//	PENDING → FAILED（无可用节点）
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCompleted TaskStatus = "COMPLETED"
)

// ExecutionTask 单脚本执行任务
type ExecutionTask struct {
	ID              int64      `json:"id"`
	PlanID          *int64     `json:"planId,omitempty"`
	ScriptID        int64      `json:"scriptId"`
	Status          TaskStatus `json:"status"`
	ExecutionNodeID string     `json:"executionNodeId,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	StartTime       *time.Time `json:"startTime,omitempty"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// TaskDetail 节点拉取任务时返回的完整信息
type TaskDetail struct {
	Task   *ExecutionTask `json:"task"`
	Script *TestScript    `json:"script"`
	Plan   *TestPlan      `json:"plan,omitempty"`
}

// ============================================================================
// ScriptResult - 脚本执行结果
// ============================================================================

// RunStatus 单次脚本运行结果状态
type RunStatus string

const (
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailure RunStatus = "FAILURE"
	RunStatusTimeout RunStatus = "TIMEOUT"
)

// Succeeded 仅 SUCCESS 计入成功，其余（含 TIMEOUT）都计入失败
func (s RunStatus) Succeeded() bool {
	return s == RunStatusSuccess
}

// ExecutionStatus 映射为日志状态
func (s RunStatus) ExecutionStatus() ExecutionStatus {
	if s.Succeeded() {
		return ExecutionStatusSuccess
	}
	return ExecutionStatusFailure
}

// ScriptResult 执行引擎输出
type ScriptResult struct {
	Status     RunStatus `json:"status"`
	Output     string    `json:"output"`
	Error      string    `json:"error"`
	DurationMs int64     `json:"duration"`
}

// CombinedLog 组合标准输出和错误输出，作为日志文件内容
func (r *ScriptResult) CombinedLog() string {
	return r.Output + "\n\n" + r.Error
}

// TaskResult 任务结果记录
type TaskResult struct {
	TaskID     int64     `json:"taskId"`
	Status     RunStatus `json:"status"`
	Output     string    `json:"output"`
	Error      string    `json:"error"`
	DurationMs int64     `json:"duration"`
	CreatedAt  time.Time `json:"createdAt"`
}
