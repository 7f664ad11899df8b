// Package server 协调器的路由与组件装配
//
// 路由规则：
//
// 健康检查与指标:
//   - GET /healthz
//   - GET /metrics
//
// 执行节点 (node):
//   - POST   /api/execution-nodes/register
//   - POST   /api/execution-nodes/{nodeId}/heartbeat
//   - PUT    /api/execution-nodes/{nodeId}/status
//   - DELETE /api/execution-nodes/{nodeId}
//   - GET    /api/execution-nodes[/online|/available|/{nodeId}]
//
// 脚本、计划与任务 (catalog):
//   - POST /api/scripts, GET /api/scripts/{scriptId}, GET /api/scripts/download
//   - POST /api/plans, GET /api/plans/{planId}
//   - POST /api/test-tasks, GET /api/test-tasks/{taskId}
//
// 分发 (dispatch):
//   - POST /api/plan-executions?planId=&nodeIdList=
//   - POST /api/test-tasks/{taskId}/start, POST /api/test-tasks/{taskId}/complete
//
// 回报 (report):
//   - /api/plan-executions/logs[...]、/api/plan-executions/{executionId}[/logs]
//   - /api/plan-executions/plan/{planId}、/api/test-tasks/{taskId}/result
//
// WebSocket:
//   - GET /ws/monitor
package server

import (
	"net/http"

	"testexec-platform/internal/coordinator/catalog"
	"testexec-platform/internal/coordinator/dispatch"
	"testexec-platform/internal/coordinator/metrics"
	"testexec-platform/internal/coordinator/node"
	"testexec-platform/internal/coordinator/report"
	"testexec-platform/internal/shared/httputil"
)

// Router 返回配置好的 HTTP 路由
func (a *App) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.Health)
	mux.Handle("GET /metrics", metrics.Handler(a.gatherer))

	node.NewHandler(a.Nodes).RegisterRoutes(mux)
	catalog.NewHandler(a.Catalog).RegisterRoutes(mux)
	dispatch.NewHandler(a.Dispatcher).RegisterRoutes(mux)
	report.NewHandler(a.Report).RegisterRoutes(mux)

	apiHandler := corsMiddleware(a.metrics.Middleware(mux))

	// WebSocket 绕过 metrics 中间件（避免 http.Hijacker 问题）
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /ws/monitor", a.Hub.HandleWebSocket)
	topMux.Handle("/", apiHandler)
	return topMux
}

// Health 健康检查，数据库不可达时返回 503
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DB().PingContext(r.Context()); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"wsClients": a.Hub.Clients(),
		"queued":    a.pool.Queued(),
	})
}

// corsMiddleware 添加 CORS 头支持跨域请求
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
