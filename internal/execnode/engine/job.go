// Package engine 节点侧脚本执行引擎
//
// 一次执行依次完成：暂存脚本文件、按脚本类型与平台构造命令、启动子进程、
// 并发读取 stdout/stderr、等待结束（可选超时）并按退出码分类。
// 引擎从不向调用方返回 error，所有失败都体现在 model.ScriptResult 中。
package engine

import (
	"time"

	"testexec-platform/internal/shared/model"
)

// Job 一次脚本执行
type Job struct {
	ScriptID int64
	// PlanID 为 0 表示不属于计划
	PlanID      int64
	ExecutionID int64
	// TaskID 非 0 时暂存目录增加 task_<taskId> 段
	TaskID       int64
	Name         string
	ScriptType   model.ScriptType
	Content      string
	FilePath     string
	EndpointType model.EndpointType
	// Timeout 为 0 时使用引擎默认超时
	Timeout time.Duration
}

// JobFromScript 由脚本记录构造 Job
func JobFromScript(s *model.TestScript, plan *model.TestPlan) Job {
	job := Job{
		ScriptID:   s.ID,
		Name:       s.Name,
		ScriptType: s.ScriptType,
		Content:    s.Content,
		FilePath:   s.FilePath,
	}
	if s.TimeoutSeconds > 0 {
		job.Timeout = time.Duration(s.TimeoutSeconds) * time.Second
	}
	if plan != nil {
		job.PlanID = plan.ID
		job.EndpointType = plan.ExecutionEndpointType
	}
	return job
}
