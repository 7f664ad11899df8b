// Package model 定义核心数据模型
//
// plan.go 包含测试计划与脚本的扁平 DTO：
//   - TestScript：测试脚本
//   - TestPlan：测试计划（有序脚本列表）
//   - EndpointType：计划目标端类型
package model

import (
	"strconv"
	"strings"
	"time"
)

// ScriptType 脚本类型
type ScriptType string

const (
	ScriptTypePython ScriptType = "python"
	ScriptTypeShell  ScriptType = "sh"
	ScriptTypeJS     ScriptType = "js"
	ScriptTypeJava   ScriptType = "java"
)

// Normalize 统一脚本类型写法（py → python，shell → sh）
func (t ScriptType) Normalize() ScriptType {
	switch strings.ToLower(strings.TrimSpace(string(t))) {
	case "python", "py":
		return ScriptTypePython
	case "sh", "shell", "bash":
		return ScriptTypeShell
	case "js", "javascript", "node":
		return ScriptTypeJS
	case "java":
		return ScriptTypeJava
	}
	return ScriptType(strings.ToLower(string(t)))
}

// Extension 返回暂存文件扩展名
func (t ScriptType) Extension() string {
	switch t.Normalize() {
	case ScriptTypePython:
		return ".py"
	case ScriptTypeShell:
		return ".sh"
	case ScriptTypeJS:
		return ".js"
	case ScriptTypeJava:
		return ".java"
	}
	return ".txt"
}

// EndpointType 测试计划面向的端类型
type EndpointType string

const (
	EndpointMiniApp EndpointType = "MiniApp"
	EndpointWeb     EndpointType = "Web"
	EndpointApp     EndpointType = "App"
	EndpointAPI     EndpointType = "Api"
)

// TestScript 测试脚本
//
// Content 与 FilePath 二选一：有 FilePath 时节点从协调器下载脚本文件，
// 否则直接写入 Content。TimeoutSeconds 为 0 表示使用节点默认超时。
type TestScript struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	ScriptType     ScriptType `json:"scriptType"`
	Content        string     `json:"content,omitempty"`
	FilePath       string     `json:"filePath,omitempty"`
	TimeoutSeconds int        `json:"timeout,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// TestPlan 测试计划
//
// Scripts 保持计划内的执行顺序。
type TestPlan struct {
	ID                    int64            `json:"id"`
	Name                  string           `json:"name"`
	Description           string           `json:"description,omitempty"`
	ExecutionEndpointType EndpointType     `json:"executionEndpointType,omitempty"`
	Scripts               []*TestScript    `json:"scripts"`
	LastExecutionStatus   *ExecutionStatus `json:"lastExecutionStatus,omitempty"`
	LastExecutionTime     *time.Time       `json:"lastExecutionTime,omitempty"`
	CreatedAt             time.Time        `json:"createdAt"`
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
