package dispatch

import (
	"net/http"
	"strings"

	"testexec-platform/internal/shared/httputil"
)

// Handler 分发 HTTP 处理器
type Handler struct {
	d *Dispatcher
}

// NewHandler 创建分发处理器
func NewHandler(d *Dispatcher) *Handler {
	return &Handler{d: d}
}

// RegisterRoutes 注册分发相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/plan-executions", h.DispatchPlan)
	mux.HandleFunc("POST /api/test-tasks/{taskId}/start", h.StartTask)
	mux.HandleFunc("POST /api/test-tasks/{taskId}/complete", h.CompleteTask)
}

// DispatchPlan 执行计划
// POST /api/plan-executions?planId=&nodeIdList=
//
// nodeIdList 支持逗号分隔或重复参数。
func (h *Handler) DispatchPlan(w http.ResponseWriter, r *http.Request) {
	planID, err := httputil.QueryInt64(r, "planId")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	exec, err := h.d.DispatchPlan(r.Context(), planID, parseNodeIDs(r.URL.Query()["nodeIdList"]))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exec)
}

// StartTask 分发任务
// POST /api/test-tasks/{taskId}/start
func (h *Handler) StartTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := httputil.PathInt64(r, "taskId")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	task, err := h.d.DispatchTask(r.Context(), taskID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, task)
}

// CompleteTask 完成任务
// POST /api/test-tasks/{taskId}/complete
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := httputil.PathInt64(r, "taskId")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	task, err := h.d.CompleteTask(r.Context(), taskID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, task)
}

func parseNodeIDs(values []string) []string {
	var ids []string
	for _, v := range values {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}
