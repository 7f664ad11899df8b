package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"testexec-platform/internal/config"
	"testexec-platform/internal/coordinator/catalog"
	"testexec-platform/internal/coordinator/dispatch"
	"testexec-platform/internal/coordinator/metrics"
	"testexec-platform/internal/coordinator/monitor"
	"testexec-platform/internal/coordinator/node"
	"testexec-platform/internal/coordinator/report"
	"testexec-platform/internal/shared/cache"
	rediscache "testexec-platform/internal/shared/cache/redis"
	"testexec-platform/internal/shared/logstore"
	objstore "testexec-platform/internal/shared/minio"
	"testexec-platform/internal/shared/storage/repository"
	"testexec-platform/internal/shared/workerpool"
)

// Deps 装配协调器所需的外部资源
type Deps struct {
	Store   *repository.Store
	HBCache cache.HeartbeatMirror
	Logs    logstore.Store
	// Registry 为 nil 时新建独立 Registry
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// App 协调器进程内的全部组件
type App struct {
	cfg      config.CoordinatorConfig
	store    *repository.Store
	hbCache  cache.HeartbeatMirror
	pool     *workerpool.Pool
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	log      *zap.Logger

	Hub        *monitor.Hub
	Nodes      *node.Service
	Monitor    *node.Monitor
	Catalog    *catalog.Service
	Dispatcher *dispatch.Dispatcher
	Report     *report.Service
}

// New 按配置连接数据库、Redis 与日志存储并装配协调器
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	store, err := repository.Open(cfg.Database.Driver, cfg.Database.DSN, true)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Info("connected to database", zap.String("driver", string(cfg.Database.Driver)))

	var hbCache cache.HeartbeatMirror = cache.Discard{}
	if cfg.RedisURL != "" {
		rs, err := rediscache.Dial(ctx, cfg.RedisURL, cfg.Coordinator.Monitor.Timeout, log)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		hbCache = rs
		log.Info("heartbeat cache enabled")
	}

	logs, err := openLogStore(ctx, cfg, log)
	if err != nil {
		hbCache.Close()
		store.Close()
		return nil, err
	}

	app, err := NewApp(cfg.Coordinator, Deps{Store: store, HBCache: hbCache, Logs: logs, Logger: log})
	if err != nil {
		hbCache.Close()
		store.Close()
		return nil, err
	}
	return app, nil
}

func openLogStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (logstore.Store, error) {
	if cfg.Coordinator.LogStore.Backend != "minio" {
		ls, err := logstore.NewLocalStore(cfg.Coordinator.LogStore.Dir)
		if err != nil {
			return nil, fmt.Errorf("open log dir: %w", err)
		}
		log.Info("log store: local", zap.String("dir", cfg.Coordinator.LogStore.Dir))
		return ls, nil
	}
	client, err := objstore.NewClient(cfg.MinIO, log)
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure log bucket: %w", err)
	}
	log.Info("log store: minio", zap.String("bucket", client.Bucket()))
	return logstore.NewObjectStore(client, "logs"), nil
}

// NewApp 用已建立的资源装配组件
func NewApp(cfg config.CoordinatorConfig, deps Deps) (*App, error) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if deps.HBCache == nil {
		deps.HBCache = cache.Discard{}
	}
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := metrics.New(reg)

	pool, err := workerpool.New("dispatch", cfg.Dispatch.PoolSize, cfg.Dispatch.QueueSize, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		store:    deps.Store,
		hbCache:  deps.HBCache,
		pool:     pool,
		metrics:  m,
		gatherer: reg,
		log:      log,
	}
	// 新连接先收到全部节点的快照
	a.Hub = monitor.NewHub(func(ctx context.Context) (interface{}, error) {
		return a.Nodes.List(ctx)
	}, m, log)
	a.Nodes = node.NewService(deps.Store, deps.HBCache, a.Hub, m, log)
	a.Monitor = node.NewMonitor(a.Nodes, cfg.Monitor.Interval, cfg.Monitor.Timeout)
	a.Catalog = catalog.NewService(deps.Store, cfg.ScriptRoot, a.Hub, log)
	a.Dispatcher = dispatch.New(dispatch.Config{
		Store:       deps.Store,
		Nodes:       a.Nodes,
		Client:      dispatch.NewHTTPNodeClient(cfg.Dispatch.NodeTimeout),
		Pool:        pool,
		Pub:         a.Hub,
		Metrics:     m,
		Logger:      log,
		CallTimeout: cfg.Dispatch.NodeTimeout,
	})
	a.Report = report.NewService(deps.Store, deps.Logs, a.Hub, m, log)
	return a, nil
}

// Run 启动巡检、WebSocket 心跳与 HTTP 服务，ctx 取消后优雅关闭
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.Monitor.Run(ctx)
	go a.Hub.Run(ctx)

	srv := &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      a.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("coordinator listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down coordinator")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("server shutdown error", zap.Error(err))
	}
	return nil
}

// Close 等待排队的计划调用发出并释放资源
func (a *App) Close() error {
	var errs []error
	if err := a.pool.Close(30 * time.Second); err != nil {
		errs = append(errs, err)
	}
	if err := a.hbCache.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
