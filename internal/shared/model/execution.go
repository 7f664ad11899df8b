// Package model 定义核心数据模型
//
// execution.go 包含计划执行相关的数据模型定义：
//   - PlanExecution：一次计划执行及其计数器
//   - PlanExecutionLog：单个脚本在一次执行中的记录
//   - ExecutionStatus：执行/日志状态枚举
package model

import (
	"time"
)

// ExecutionStatus 执行状态
//
//	EXECUTING → SUCCESS | FAILURE（终态，不可再变）
type ExecutionStatus string

const (
	ExecutionStatusExecuting ExecutionStatus = "EXECUTING"
	ExecutionStatusSuccess   ExecutionStatus = "SUCCESS"
	ExecutionStatusFailure   ExecutionStatus = "FAILURE"
)

// IsTerminal 是否为终态
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusFailure
}

// ResultPreviewLimit 日志结果预览的最大字符数
const ResultPreviewLimit = 30

// PlanExecution 计划执行
//
// 不变量：SuccessScripts + FailedScripts <= TotalScripts；
// 两者之和等于 TotalScripts 时状态必为终态。
type PlanExecution struct {
	ID             int64           `json:"id"`
	PlanID         int64           `json:"planId"`
	NodeID         string          `json:"nodeId"`
	Status         ExecutionStatus `json:"status"`
	TotalScripts   int             `json:"totalScripts"`
	SuccessScripts int             `json:"successScripts"`
	FailedScripts  int             `json:"failedScripts"`
	StartTime      time.Time       `json:"startTime"`
	EndTime        *time.Time      `json:"endTime,omitempty"`
}

// Finished 已完成脚本数
func (e *PlanExecution) Finished() int {
	return e.SuccessScripts + e.FailedScripts
}

// PlanExecutionLog 计划执行日志（每个脚本一条）
type PlanExecutionLog struct {
	ID            int64           `json:"id"`
	ExecutionID   int64           `json:"executionId"`
	ScriptID      int64           `json:"scriptId"`
	Status        ExecutionStatus `json:"status"`
	Result        string          `json:"result,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	ExecutionTime int64           `json:"executionTime"`
	StartTime     time.Time       `json:"startTime"`
	EndTime       *time.Time      `json:"endTime,omitempty"`
}

// EntityRef 只携带主键的实体引用
type EntityRef struct {
	ID int64 `json:"id"`
}

// CreateLogRequest 创建执行日志请求
//
// 标准形态为 {execution:{id}, testScript:{id}, status}，
// 扁平的 executionId/scriptId 仅在嵌套字段缺失时使用。
type CreateLogRequest struct {
	Execution   *EntityRef      `json:"execution,omitempty"`
	TestScript  *EntityRef      `json:"testScript,omitempty"`
	Status      ExecutionStatus `json:"status,omitempty"`
	ExecutionID int64           `json:"executionId,omitempty"`
	ScriptID    int64           `json:"scriptId,omitempty"`
}

// NewCreateLogRequest 构造嵌套形态的创建请求
func NewCreateLogRequest(executionID, scriptID int64) CreateLogRequest {
	return CreateLogRequest{
		Execution:  &EntityRef{ID: executionID},
		TestScript: &EntityRef{ID: scriptID},
		Status:     ExecutionStatusExecuting,
	}
}

// IDs 返回执行 ID 与脚本 ID，嵌套字段优先
func (r CreateLogRequest) IDs() (executionID, scriptID int64) {
	executionID, scriptID = r.ExecutionID, r.ScriptID
	if r.Execution != nil && r.Execution.ID != 0 {
		executionID = r.Execution.ID
	}
	if r.TestScript != nil && r.TestScript.ID != 0 {
		scriptID = r.TestScript.ID
	}
	return executionID, scriptID
}

// LogStatusUpdate 日志状态更新请求
type LogStatusUpdate struct {
	Status        RunStatus `json:"status"`
	Result        string    `json:"result"`
	ErrorMessage  string    `json:"errorMessage"`
	ExecutionTime int64     `json:"executionTime"`
}

// PreviewResult 截断结果文本，超过 ResultPreviewLimit 个字符时保留前缀并追加 "..."
func PreviewResult(result string) string {
	runes := []rune(result)
	if len(runes) <= ResultPreviewLimit {
		return result
	}
	return string(runes[:ResultPreviewLimit]) + "..."
}

// PlanDispatchRequest 协调器发给节点的计划执行请求
type PlanDispatchRequest struct {
	PlanID      int64 `json:"planId"`
	ExecutionID int64 `json:"executionId"`
}
