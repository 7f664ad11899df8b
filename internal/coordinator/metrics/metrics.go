// Package metrics 协调器 Prometheus 指标
//
// 所有指标注册到构造时传入的 Registerer，测试中使用独立的 Registry 避免重复注册。
// 方法均允许 nil 接收者，未启用指标的组件可直接传 nil。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coordinator"

// Metrics 包含所有协调器指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// 节点指标
	NodesByStatus      *prometheus.GaugeVec
	NodeRegistrations  prometheus.Counter
	NodeHeartbeats     prometheus.Counter
	MonitorSweeps      prometheus.Counter
	MonitorDemotions   prometheus.Counter
	MonitorSweepErrors prometheus.Counter

	// 分发指标
	DispatchTotal      *prometheus.CounterVec
	DispatchQueueDepth prometheus.Gauge

	// 回报指标
	LogUpdatesTotal    *prometheus.CounterVec
	ExecutionsFinished *prometheus.CounterVec
	LogBytesUploaded   prometheus.Counter

	// WebSocket 指标
	WSConnectionsActive prometheus.Gauge
	WSMessagesTotal     *prometheus.CounterVec
}

// New 创建指标实例并注册到 reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		NodesByStatus: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "nodes",
				Help:      "Registered execution nodes by status",
			},
			[]string{"status"},
		),
		NodeRegistrations: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_registrations_total",
				Help:      "Total node registrations",
			},
		),
		NodeHeartbeats: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_heartbeats_total",
				Help:      "Total accepted node heartbeats",
			},
		),
		MonitorSweeps: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "monitor_sweeps_total",
				Help:      "Total heartbeat monitor sweeps",
			},
		),
		MonitorDemotions: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "monitor_demotions_total",
				Help:      "Total nodes marked OFFLINE by the heartbeat monitor",
			},
		),
		MonitorSweepErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "monitor_sweep_errors_total",
				Help:      "Total heartbeat monitor sweep failures",
			},
		),
		DispatchTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Total dispatches by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		DispatchQueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dispatch_queue_depth",
				Help:      "Plan dispatch calls waiting in the worker pool queue",
			},
		),
		LogUpdatesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "log_updates_total",
				Help:      "Total execution log status updates by status",
			},
			[]string{"status"},
		),
		ExecutionsFinished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_finished_total",
				Help:      "Total plan executions that reached a terminal status",
			},
			[]string{"status"},
		),
		LogBytesUploaded: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "log_bytes_uploaded_total",
				Help:      "Total bytes of script logs stored",
			},
		),
		WSConnectionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_connections_active",
				Help:      "Active WebSocket connections",
			},
		),
		WSMessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_messages_total",
				Help:      "Total WebSocket messages",
			},
			[]string{"type"},
		),
	}
}

// Handler 返回 Prometheus HTTP Handler
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Middleware 创建 HTTP 指标中间件
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		// 包装 ResponseWriter 以捕获状态码
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := routePattern(r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// responseWriter 包装 http.ResponseWriter 以捕获状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern 使用 ServeMux 匹配到的路由模式作为标签，避免 ID 造成高基数
func routePattern(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}

// SetNodeCounts 设置各状态节点数量
func (m *Metrics) SetNodeCounts(counts map[string]int) {
	if m == nil {
		return
	}
	for _, status := range []string{"ONLINE", "BUSY", "OFFLINE"} {
		m.NodesByStatus.WithLabelValues(status).Set(float64(counts[status]))
	}
}

// NodeRegistered 记录节点注册
func (m *Metrics) NodeRegistered() {
	if m == nil {
		return
	}
	m.NodeRegistrations.Inc()
}

// HeartbeatAccepted 记录节点心跳
func (m *Metrics) HeartbeatAccepted() {
	if m == nil {
		return
	}
	m.NodeHeartbeats.Inc()
}

// RecordSweep 记录一次巡检
func (m *Metrics) RecordSweep(demoted int, err error) {
	if m == nil {
		return
	}
	m.MonitorSweeps.Inc()
	m.MonitorDemotions.Add(float64(demoted))
	if err != nil {
		m.MonitorSweepErrors.Inc()
	}
}

// RecordDispatch 记录一次分发
// kind: task, plan；outcome: sent, failed, no_node, queue_full
func (m *Metrics) RecordDispatch(kind, outcome string) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(kind, outcome).Inc()
}

// SetQueueDepth 设置分发队列深度
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.DispatchQueueDepth.Set(float64(n))
}

// RecordLogUpdate 记录日志状态回报
func (m *Metrics) RecordLogUpdate(status string) {
	if m == nil {
		return
	}
	m.LogUpdatesTotal.WithLabelValues(status).Inc()
}

// RecordExecutionFinished 记录执行进入终态
func (m *Metrics) RecordExecutionFinished(status string) {
	if m == nil {
		return
	}
	m.ExecutionsFinished.WithLabelValues(status).Inc()
}

// RecordLogUpload 记录日志上传字节数
func (m *Metrics) RecordLogUpload(size int) {
	if m == nil {
		return
	}
	m.LogBytesUploaded.Add(float64(size))
}

// WSConnectionOpened WebSocket 连接打开
func (m *Metrics) WSConnectionOpened() {
	if m == nil {
		return
	}
	m.WSConnectionsActive.Inc()
}

// WSConnectionClosed WebSocket 连接关闭
func (m *Metrics) WSConnectionClosed() {
	if m == nil {
		return
	}
	m.WSConnectionsActive.Dec()
}

// RecordWSMessage 记录 WebSocket 推送
func (m *Metrics) RecordWSMessage(msgType string) {
	if m == nil {
		return
	}
	m.WSMessagesTotal.WithLabelValues(msgType).Inc()
}
