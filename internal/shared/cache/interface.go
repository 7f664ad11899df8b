// Package cache 节点心跳镜像
//
// 心跳以带 TTL 的键写入 Redis，供外部系统低成本查询在线节点；
// 心跳巡检仍以数据库为准，镜像写失败只记录日志。
package cache

import (
	"context"
	"time"
)

// KeyPrefix 心跳键前缀，完整键为 KeyPrefix + nodeId
const KeyPrefix = "testexec:node_heartbeat:"

// DefaultTTL 未配置时的心跳键过期时间
const DefaultTTL = 60 * time.Second

// NodeHeartbeat 节点心跳快照
type NodeHeartbeat struct {
	NodeID    string
	Status    string
	Host      string
	Port      int
	UpdatedAt time.Time
}

// HeartbeatMirror 心跳镜像
type HeartbeatMirror interface {
	Put(ctx context.Context, hb *NodeHeartbeat) error
	// Get 键不存在或已过期时返回 nil, nil
	Get(ctx context.Context, nodeID string) (*NodeHeartbeat, error)
	Remove(ctx context.Context, nodeID string) error
	// OnlineNodeIDs 返回心跳键尚未过期的节点
	OnlineNodeIDs(ctx context.Context) ([]string, error)
	Close() error
}

// Discard 未配置 Redis 时使用的空实现
type Discard struct{}

var _ HeartbeatMirror = Discard{}

func (Discard) Put(context.Context, *NodeHeartbeat) error { return nil }
func (Discard) Get(context.Context, string) (*NodeHeartbeat, error) { return nil, nil }
func (Discard) Remove(context.Context, string) error { return nil }
func (Discard) OnlineNodeIDs(context.Context) ([]string, error) { return nil, nil }
func (Discard) Close() error { return nil }
