package node

import (
	"context"
	"time"

	"go.uber.org/zap"

	"testexec-platform/internal/shared/model"
)

// Monitor 心跳巡检
//
// 每个周期把心跳超时（或从未心跳）且不是 OFFLINE 的节点标记为 OFFLINE。
// 巡检只会降级，不会提升；节点下一次心跳或注册会重新上线。
type Monitor struct {
	svc      *Service
	interval time.Duration
	timeout  time.Duration
}

// NewMonitor 创建巡检器
func NewMonitor(svc *Service, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Monitor{svc: svc, interval: interval, timeout: timeout}
}

// Run 启动巡检循环，直到 ctx 取消
func (m *Monitor) Run(ctx context.Context) {
	log := m.svc.log.Named("monitor")
	log.Info("heartbeat monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("timeout", m.timeout))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("heartbeat monitor stopped")
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx, m.svc.now()); err != nil {
				log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep 执行一次巡检，返回被标记为 OFFLINE 的节点数
//
// 单个节点更新失败不会中断本次巡检，返回遇到的第一个错误。
func (m *Monitor) Sweep(ctx context.Context, now time.Time) (int, error) {
	nodes, err := m.svc.store.ListNodes(ctx)
	if err != nil {
		m.svc.metrics.RecordSweep(0, err)
		return 0, err
	}

	var (
		demoted  int
		firstErr error
		counts   = make(map[string]int)
		cutoff   = now.Add(-m.timeout)
	)
	for _, n := range nodes {
		if n.Status != model.NodeStatusOffline && n.HeartbeatExpired(now, m.timeout) {
			// 快照之后可能有心跳到达，由存储层按 cutoff 再判断一次
			ok, err := m.svc.store.DemoteStaleNode(ctx, n.NodeID, cutoff, now)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				m.svc.log.Warn("mark node offline failed", zap.String("nodeId", n.NodeID), zap.Error(err))
				counts[string(n.Status)]++
				continue
			}
			if !ok {
				m.svc.log.Debug("node refreshed during sweep, skip demotion", zap.String("nodeId", n.NodeID))
				if fresh, err := m.svc.store.GetNode(ctx, n.NodeID); err == nil && fresh != nil {
					n = fresh
				}
				counts[string(n.Status)]++
				continue
			}
			n.Status = model.NodeStatusOffline
			demoted++
			m.svc.log.Warn("node heartbeat timeout, marked OFFLINE",
				zap.String("nodeId", n.NodeID),
				zap.Timep("lastHeartbeat", n.LastHeartbeat))
			m.svc.afterStatusChange(ctx, n)
		}
		counts[string(n.Status)]++
	}

	m.svc.metrics.SetNodeCounts(counts)
	m.svc.metrics.RecordSweep(demoted, firstErr)
	return demoted, firstErr
}
