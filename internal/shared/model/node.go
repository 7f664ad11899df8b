// Package model 定义核心数据模型
//
// node.go 包含执行节点相关的数据模型定义：
//   - ExecutionNode：运行测试脚本的远程执行节点
//   - NodeStatus：节点状态枚举
//   - NodeRegistration：节点注册请求
package model

import (
	"time"
)

// ============================================================================
// NodeStatus - 节点状态
// ============================================================================

// NodeStatus 表示执行节点的状态
//
// 节点生命周期：
//
//	register → ONLINE ⇄ OFFLINE
//	              ↓
//	           removed
//
// 状态说明：
//   - ONLINE：节点在线，可接受新任务
//   - BUSY：保留状态，调度器永远不会主动设置，只能通过显式状态更新写入
//   - OFFLINE：心跳超时或主动下线，只有注册或心跳能重新上线
type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "ONLINE"
	NodeStatusBusy    NodeStatus = "BUSY"
	NodeStatusOffline NodeStatus = "OFFLINE"
)

// IsValid 检查状态是否为合法枚举值
func (s NodeStatus) IsValid() bool {
	switch s {
	case NodeStatusOnline, NodeStatusBusy, NodeStatusOffline:
		return true
	}
	return false
}

// ============================================================================
// ExecutionNode - 执行节点
// ============================================================================

// ExecutionNode 执行节点
//
// NodeID 由节点自身生成并在重启后保持不变，协调器以它作为唯一键。
// LastHeartbeat 为 nil 表示从未收到心跳，巡检时视为超时。
type ExecutionNode struct {
	ID            int64      `json:"id"`
	NodeID        string     `json:"nodeId"`
	Name          string     `json:"name"`
	Host          string     `json:"host"`
	Port          int        `json:"port"`
	OSInfo        string     `json:"osInfo,omitempty"`
	CPUInfo       string     `json:"cpuInfo,omitempty"`
	MemoryInfo    string     `json:"memoryInfo,omitempty"`
	Status        NodeStatus `json:"status"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// BaseURL 返回节点 HTTP 服务根地址
func (n *ExecutionNode) BaseURL() string {
	return "http://" + n.Host + ":" + itoa(n.Port)
}

// HeartbeatExpired 判断节点在 now 时刻是否已心跳超时
func (n *ExecutionNode) HeartbeatExpired(now time.Time, timeout time.Duration) bool {
	if n.LastHeartbeat == nil {
		return true
	}
	return now.Sub(*n.LastHeartbeat) > timeout
}

// NodeRegistration 节点注册请求
type NodeRegistration struct {
	NodeID     string `json:"nodeId"`
	Name       string `json:"name"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	OSInfo     string `json:"osInfo,omitempty"`
	CPUInfo    string `json:"cpuInfo,omitempty"`
	MemoryInfo string `json:"memoryInfo,omitempty"`
}
