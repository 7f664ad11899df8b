package execnode

import (
	"context"
	"time"

	"go.uber.org/zap"

	"testexec-platform/internal/shared/model"
)

// Registrar 节点注册与心跳所需的协调器接口
type Registrar interface {
	Register(ctx context.Context, reg *model.NodeRegistration) (*model.ExecutionNode, error)
	Heartbeat(ctx context.Context, nodeID string) error
}

// HeartbeatService 心跳服务
//
// 启动时注册，之后按周期发送心跳；注册失败在下个周期重试，
// 心跳失败（包括协调器已删除本节点）时立即重新注册。
type HeartbeatService struct {
	coord    Registrar
	reg      model.NodeRegistration
	interval time.Duration
	metrics  *Metrics
	log      *zap.Logger

	registered bool
}

// NewHeartbeatService 创建心跳服务
func NewHeartbeatService(coord Registrar, reg model.NodeRegistration, interval time.Duration, m *Metrics, log *zap.Logger) *HeartbeatService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HeartbeatService{
		coord:    coord,
		reg:      reg,
		interval: interval,
		metrics:  m,
		log:      log.Named("heartbeat").With(zap.String("nodeId", reg.NodeID)),
	}
}

// Start 启动心跳循环，直到 ctx 取消
func (s *HeartbeatService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Beat(ctx)
		}
	}
}

// Beat 执行一个周期：未注册时注册，否则心跳，心跳失败立即重新注册
func (s *HeartbeatService) Beat(ctx context.Context) {
	if !s.registered {
		s.register(ctx)
		return
	}

	err := s.coord.Heartbeat(ctx, s.reg.NodeID)
	s.metrics.heartbeat(err)
	if err == nil {
		return
	}
	s.log.Warn("heartbeat failed, re-registering", zap.Error(err))
	s.registered = false
	s.register(ctx)
}

// Registered 最近一次注册是否成功
func (s *HeartbeatService) Registered() bool {
	return s.registered
}

func (s *HeartbeatService) register(ctx context.Context) {
	reg := s.reg
	node, err := s.coord.Register(ctx, &reg)
	if err != nil {
		s.log.Warn("register failed", zap.Error(err))
		return
	}
	s.registered = true
	s.metrics.registered()
	s.log.Info("registered with coordinator",
		zap.String("status", string(node.Status)),
		zap.String("host", reg.Host),
		zap.Int("port", reg.Port))
}
