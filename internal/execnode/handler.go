package execnode

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"testexec-platform/internal/shared/apperr"
	"testexec-platform/internal/shared/httputil"
	"testexec-platform/internal/shared/model"
	"testexec-platform/internal/shared/workerpool"
)

// Handler 接收协调器分发的 HTTP 处理器
//
// 请求只负责入队，计划与任务在节点自己的有界工作池中执行；
// 队列满时返回 503。
type Handler struct {
	exec    *Executor
	pool    *workerpool.Pool
	baseCtx context.Context
	metrics *Metrics
	log     *zap.Logger
}

// NewHandler 创建处理器，baseCtx 取消时正在执行的脚本会被终止
func NewHandler(baseCtx context.Context, exec *Executor, pool *workerpool.Pool, m *Metrics, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{exec: exec, pool: pool, baseCtx: baseCtx, metrics: m, log: log.Named("handler")}
}

// RegisterRoutes 注册节点路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/execution/execute-task", h.ExecuteTask)
	mux.HandleFunc("POST /api/execution/execute-plan", h.ExecutePlan)
	mux.HandleFunc("GET /healthz", h.Health)
}

// ExecuteTask 接收单脚本任务
// POST /api/execution/execute-task?taskId=
func (h *Handler) ExecuteTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := httputil.QueryInt64(r, "taskId")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	err = h.pool.Submit(func() {
		if err := h.exec.ExecuteTask(h.baseCtx, taskID); err != nil {
			h.log.Error("task failed", zap.Int64("taskId", taskID), zap.Error(err))
		}
	})
	if err != nil {
		h.metrics.jobRejected("task")
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"message": "task accepted", "taskId": taskID})
}

// ExecutePlan 接收计划执行
// POST /api/execution/execute-plan {planId, executionId}
func (h *Handler) ExecutePlan(w http.ResponseWriter, r *http.Request) {
	var req model.PlanDispatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if req.PlanID <= 0 || req.ExecutionID <= 0 {
		httputil.WriteAppError(w, fmt.Errorf("planId and executionId are required: %w", apperr.ErrInvalidArgument))
		return
	}
	err := h.pool.Submit(func() {
		if err := h.exec.ExecutePlan(h.baseCtx, req.PlanID, req.ExecutionID); err != nil {
			h.log.Error("plan execution reported errors",
				zap.Int64("planId", req.PlanID),
				zap.Int64("executionId", req.ExecutionID),
				zap.Error(err))
		}
	})
	if err != nil {
		h.metrics.jobRejected("plan")
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "plan accepted",
		"planId":      req.PlanID,
		"executionId": req.ExecutionID,
	})
}

// Health 健康检查
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": h.pool.Running(),
		"queued":  h.pool.Queued(),
	})
}
