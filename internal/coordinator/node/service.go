// Package node 执行节点注册表与心跳巡检
//
// 数据库是节点状态的唯一来源；配置了 Redis 时心跳会额外镜像为带 TTL 的键，
// 供外部系统查询。所有状态变化都会推送到监控 WebSocket。
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"testexec-platform/internal/coordinator/metrics"
	"testexec-platform/internal/coordinator/monitor"
	"testexec-platform/internal/shared/apperr"
	"testexec-platform/internal/shared/cache"
	"testexec-platform/internal/shared/model"
	"testexec-platform/internal/shared/storage"
)

// Service 节点注册表
type Service struct {
	store   storage.NodeStore
	cache   cache.HeartbeatMirror
	pub     monitor.Publisher
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewService 创建节点注册表，hbCache/pub/m 均可为 nil
func NewService(store storage.NodeStore, hbCache cache.HeartbeatMirror, pub monitor.Publisher, m *metrics.Metrics, log *zap.Logger) *Service {
	if hbCache == nil {
		hbCache = cache.Discard{}
	}
	if pub == nil {
		pub = monitor.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   store,
		cache:   hbCache,
		pub:     pub,
		metrics: m,
		log:     log.Named("node"),
		now:     time.Now,
	}
}

// Register 注册或刷新节点，节点状态强制为 ONLINE
func (s *Service) Register(ctx context.Context, reg *model.NodeRegistration) (*model.ExecutionNode, error) {
	if reg == nil || reg.NodeID == "" {
		return nil, fmt.Errorf("nodeId is required: %w", apperr.ErrInvalidArgument)
	}
	if reg.Host == "" {
		return nil, fmt.Errorf("host is required: %w", apperr.ErrInvalidArgument)
	}
	if reg.Port <= 0 || reg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d: %w", reg.Port, apperr.ErrInvalidArgument)
	}
	if reg.Name == "" {
		reg.Name = reg.NodeID
	}

	node, err := s.store.UpsertNode(ctx, reg, s.now())
	if err != nil {
		return nil, fmt.Errorf("register node %s: %w", reg.NodeID, err)
	}
	s.metrics.NodeRegistered()
	s.mirror(ctx, node)
	s.pub.Publish(monitor.MsgNodeStatus, node)
	s.log.Info("node registered",
		zap.String("nodeId", node.NodeID),
		zap.String("addr", node.BaseURL()),
		zap.String("os", node.OSInfo))
	return node, nil
}

// Heartbeat 刷新心跳时间；非 ONLINE/BUSY 节点提升为 ONLINE
func (s *Service) Heartbeat(ctx context.Context, nodeID string) (*model.ExecutionNode, error) {
	prev, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("heartbeat %s: %w", nodeID, err)
	}
	if prev == nil {
		return nil, fmt.Errorf("node %s: %w", nodeID, apperr.ErrNotFound)
	}

	node, err := s.store.TouchNodeHeartbeat(ctx, nodeID, s.now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// 并发删除
			return nil, fmt.Errorf("node %s: %w", nodeID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("heartbeat %s: %w", nodeID, err)
	}
	s.metrics.HeartbeatAccepted()
	s.mirror(ctx, node)
	if prev.Status != node.Status {
		s.log.Info("node back online", zap.String("nodeId", nodeID), zap.String("from", string(prev.Status)))
		s.pub.Publish(monitor.MsgNodeStatus, node)
	}
	return node, nil
}

// UpdateStatus 显式设置节点状态
func (s *Service) UpdateStatus(ctx context.Context, nodeID string, status model.NodeStatus) (*model.ExecutionNode, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("invalid node status %q: %w", status, apperr.ErrInvalidArgument)
	}
	if err := s.store.UpdateNodeStatus(ctx, nodeID, status, s.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("node %s: %w", nodeID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("update node %s status: %w", nodeID, err)
	}
	node, err := s.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	s.afterStatusChange(ctx, node)
	return node, nil
}

// Remove 删除节点，节点不存在时不报错
func (s *Service) Remove(ctx context.Context, nodeID string) error {
	if err := s.store.DeleteNode(ctx, nodeID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("remove node %s: %w", nodeID, err)
	}
	if err := s.cache.Remove(ctx, nodeID); err != nil {
		s.log.Warn("delete heartbeat cache failed", zap.String("nodeId", nodeID), zap.Error(err))
	}
	s.pub.Publish(monitor.MsgNodeStatus, map[string]string{"nodeId": nodeID, "status": "REMOVED"})
	s.log.Info("node removed", zap.String("nodeId", nodeID))
	return nil
}

// Get 获取节点
func (s *Service) Get(ctx context.Context, nodeID string) (*model.ExecutionNode, error) {
	node, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, fmt.Errorf("node %s: %w", nodeID, apperr.ErrNotFound)
	}
	return node, nil
}

// List 按注册顺序列出全部节点
func (s *Service) List(ctx context.Context) ([]*model.ExecutionNode, error) {
	return s.store.ListNodes(ctx)
}

// ListOnline 列出 ONLINE 节点
func (s *Service) ListOnline(ctx context.Context) ([]*model.ExecutionNode, error) {
	return s.store.ListNodesByStatus(ctx, model.NodeStatusOnline)
}

// SelectAvailable 选择第一个 ONLINE 节点（注册顺序）
func (s *Service) SelectAvailable(ctx context.Context) (*model.ExecutionNode, error) {
	nodes, err := s.ListOnline(ctx)
	if err != nil {
		return nil, fmt.Errorf("list online nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil, apperr.ErrNodeUnavailable
	}
	return nodes[0], nil
}

// RequireOnline 指定节点必须处于 ONLINE
func (s *Service) RequireOnline(ctx context.Context, nodeID string) (*model.ExecutionNode, error) {
	node, err := s.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.Status != model.NodeStatusOnline {
		return nil, fmt.Errorf("node %s is %s: %w", nodeID, node.Status, apperr.ErrNodeUnavailable)
	}
	return node, nil
}

// afterStatusChange 同步缓存并推送
func (s *Service) afterStatusChange(ctx context.Context, node *model.ExecutionNode) {
	if node.Status == model.NodeStatusOffline {
		if err := s.cache.Remove(ctx, node.NodeID); err != nil {
			s.log.Warn("delete heartbeat cache failed", zap.String("nodeId", node.NodeID), zap.Error(err))
		}
	} else {
		s.mirror(ctx, node)
	}
	s.pub.Publish(monitor.MsgNodeStatus, node)
}

// mirror 将心跳写入缓存，失败只记录日志
func (s *Service) mirror(ctx context.Context, node *model.ExecutionNode) {
	entry := &cache.NodeHeartbeat{
		NodeID:    node.NodeID,
		Status:    string(node.Status),
		Host:      node.Host,
		Port:      node.Port,
		UpdatedAt: s.now(),
	}
	if node.LastHeartbeat != nil {
		entry.UpdatedAt = *node.LastHeartbeat
	}
	if err := s.cache.Put(ctx, entry); err != nil {
		s.log.Warn("update heartbeat cache failed", zap.String("nodeId", node.NodeID), zap.Error(err))
	}
}
