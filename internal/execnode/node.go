package execnode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"testexec-platform/internal/config"
	"testexec-platform/internal/execnode/client"
	"testexec-platform/internal/execnode/engine"
	"testexec-platform/internal/shared/model"
	"testexec-platform/internal/shared/workerpool"
)

// Node 执行节点进程内的全部组件
type Node struct {
	cfg      config.NodeConfig
	client   *client.Client
	pool     *workerpool.Pool
	registry *prometheus.Registry
	log      *zap.Logger

	Metrics   *Metrics
	Engine    *engine.Engine
	Executor  *Executor
	Heartbeat *HeartbeatService
	Cleaner   *Cleaner
}

// New 按配置装配执行节点，未配置的 nodeId/host/name 自动探测
func New(cfg config.NodeConfig, log *zap.Logger) (*Node, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.NodeID == "" {
		cfg.NodeID = GenerateNodeID()
	}
	if cfg.Host == "" {
		cfg.Host = DetectHost()
	}
	if cfg.Name == "" {
		cfg.Name, _ = os.Hostname()
	}
	if cfg.CoordinatorURL == "" {
		return nil, errors.New("coordinator url is required")
	}
	log = log.With(zap.String("nodeId", cfg.NodeID))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := NewMetrics(reg, cfg.NodeID)

	pool, err := workerpool.New("execnode", cfg.PoolSize, cfg.QueueSize, log)
	if err != nil {
		return nil, err
	}

	coord := client.New(cfg.CoordinatorURL, cfg.RequestTimeout)
	eng := engine.New(engine.Config{
		TempDir:        cfg.TempDir,
		ScriptsDir:     cfg.ScriptsDir,
		DefaultTimeout: cfg.ScriptTimeout,
	}, coord, log)

	registration := model.NodeRegistration{
		NodeID: cfg.NodeID,
		Name:   cfg.Name,
		Host:   cfg.Host,
		Port:   cfg.Port,
	}
	CollectSystemInfo().Apply(&registration)

	return &Node{
		cfg:       cfg,
		client:    coord,
		pool:      pool,
		registry:  reg,
		log:       log,
		Metrics:   m,
		Engine:    eng,
		Executor:  NewExecutor(coord, eng, m, log),
		Heartbeat: NewHeartbeatService(coord, registration, cfg.HeartbeatInterval, m, log),
		Cleaner:   NewCleaner(cfg.TempDir, cfg.Cleanup.Schedule, cfg.Cleanup.MaxAge, m, log),
	}, nil
}

// ID 节点 ID
func (n *Node) ID() string {
	return n.cfg.NodeID
}

// Router 返回节点 HTTP 路由，ctx 是已接收任务的执行上下文
func (n *Node) Router(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	NewHandler(ctx, n.Executor, n.pool, n.Metrics, n.log).RegisterRoutes(mux)
	mux.Handle("GET /metrics", MetricsHandler(n.registry))
	return mux
}

// Run 启动 HTTP 服务、心跳与清理调度，ctx 取消后优雅退出
func (n *Node) Run(ctx context.Context) error {
	sched, err := n.Cleaner.Start()
	if err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", n.cfg.Cleanup.Schedule, err)
	}
	defer sched.Stop()

	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:        ":" + strconv.Itoa(n.cfg.Port),
		Handler:     n.Router(gctx),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g.Go(func() error {
		n.log.Info("execution node listening", zap.String("addr", srv.Addr), zap.String("coordinator", n.client.BaseURL()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		n.Heartbeat.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	n.shutdown()
	return err
}

// shutdown 通知协调器下线并等待已入队的作业结束
func (n *Node) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.client.UpdateStatus(ctx, n.cfg.NodeID, model.NodeStatusOffline); err != nil {
		n.log.Warn("report offline failed", zap.Error(err))
	}
	if err := n.pool.Close(30 * time.Second); err != nil {
		n.log.Warn("worker pool drain failed", zap.Error(err))
	}
	n.log.Info("execution node stopped")
}
