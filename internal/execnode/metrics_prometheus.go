package execnode

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"testexec-platform/internal/shared/model"
)

// Metrics 执行节点指标，nil 接收者上的方法均为空操作
type Metrics struct {
	// 注册与心跳
	Registrations   prometheus.Counter
	HeartbeatTotal  prometheus.Counter
	HeartbeatErrors prometheus.Counter

	// 脚本执行
	JobsRunning    prometheus.Gauge
	JobsRejected   *prometheus.CounterVec
	ScriptsTotal   *prometheus.CounterVec
	ScriptDuration *prometheus.HistogramVec

	// 回报与清理
	ReportErrors   *prometheus.CounterVec
	CleanupRemoved prometheus.Counter
}

// NewMetrics 在 reg 上注册执行节点指标
func NewMetrics(reg prometheus.Registerer, nodeID string) *Metrics {
	const namespace = "execnode"
	labels := prometheus.Labels{"node_id": nodeID}
	f := promauto.With(reg)

	return &Metrics{
		Registrations: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "registrations_total",
			Help:        "Total successful registrations with the coordinator",
			ConstLabels: labels,
		}),
		HeartbeatTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "heartbeat_total",
			Help:        "Total heartbeats sent",
			ConstLabels: labels,
		}),
		HeartbeatErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "heartbeat_errors_total",
			Help:        "Total heartbeat errors",
			ConstLabels: labels,
		}),
		JobsRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "jobs_running",
			Help:        "Number of plan or task jobs currently running",
			ConstLabels: labels,
		}),
		JobsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "jobs_rejected_total",
			Help:        "Total jobs rejected because the queue was full",
			ConstLabels: labels,
		}, []string{"kind"}),
		ScriptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "scripts_total",
			Help:        "Total scripts executed by type and status",
			ConstLabels: labels,
		}, []string{"type", "status"}),
		ScriptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "script_duration_seconds",
			Help:        "Script execution duration in seconds",
			Buckets:     []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: labels,
		}, []string{"type"}),
		ReportErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "report_errors_total",
			Help:        "Total failed calls back to the coordinator by operation",
			ConstLabels: labels,
		}, []string{"op"}),
		CleanupRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cleanup_removed_dirs_total",
			Help:        "Total staged script directories removed by cleanup",
			ConstLabels: labels,
		}),
	}
}

// MetricsHandler 返回 /metrics 处理器
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) registered() {
	if m != nil {
		m.Registrations.Inc()
	}
}

func (m *Metrics) heartbeat(err error) {
	if m == nil {
		return
	}
	m.HeartbeatTotal.Inc()
	if err != nil {
		m.HeartbeatErrors.Inc()
	}
}

func (m *Metrics) jobStarted() {
	if m != nil {
		m.JobsRunning.Inc()
	}
}

func (m *Metrics) jobDone() {
	if m != nil {
		m.JobsRunning.Dec()
	}
}

func (m *Metrics) jobRejected(kind string) {
	if m != nil {
		m.JobsRejected.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) scriptFinished(t model.ScriptType, r model.ScriptResult) {
	if m == nil {
		return
	}
	typ := string(t.Normalize())
	m.ScriptsTotal.WithLabelValues(typ, string(r.Status)).Inc()
	m.ScriptDuration.WithLabelValues(typ).Observe(float64(r.DurationMs) / 1000)
}

func (m *Metrics) reportFailed(op string) {
	if m != nil {
		m.ReportErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) cleaned(n int) {
	if m != nil {
		m.CleanupRemoved.Add(float64(n))
	}
}
