package catalog

import (
	"io"
	"net/http"
	"path"

	"testexec-platform/internal/shared/httputil"
	"testexec-platform/internal/shared/model"
)

// Handler 目录 HTTP 处理器
type Handler struct {
	svc *Service
}

// NewHandler 创建目录处理器
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册脚本、计划与任务录入路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/scripts", h.CreateScript)
	mux.HandleFunc("GET /api/scripts/download", h.DownloadScript)
	mux.HandleFunc("GET /api/scripts/{scriptId}", h.GetScript)
	mux.HandleFunc("POST /api/plans", h.CreatePlan)
	mux.HandleFunc("GET /api/plans/{planId}", h.GetPlan)
	mux.HandleFunc("POST /api/test-tasks", h.CreateTask)
	mux.HandleFunc("GET /api/test-tasks/{taskId}", h.GetTask)
}

// CreateScript 登记脚本
// POST /api/scripts
func (h *Handler) CreateScript(w http.ResponseWriter, r *http.Request) {
	var script model.TestScript
	if err := httputil.DecodeJSON(r, &script); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	script.ID = 0
	if err := h.svc.CreateScript(r.Context(), &script); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, script)
}

// GetScript 获取脚本
// GET /api/scripts/{scriptId}
func (h *Handler) GetScript(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "scriptId")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	script, err := h.svc.GetScript(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, script)
}

// DownloadScript 下载脚本文件
// GET /api/scripts/download?filePath=
func (h *Handler) DownloadScript(w http.ResponseWriter, r *http.Request) {
	filePath := r.URL.Query().Get("filePath")
	f, err := h.svc.OpenScriptFile(filePath)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename="+path.Base(filePath))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}

type createPlanRequest struct {
	model.TestPlan
	ScriptIDs []int64 `json:"scriptIds"`
}

// CreatePlan 创建计划
// POST /api/plans
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	plan := req.TestPlan
	plan.ID = 0
	plan.Scripts = nil
	plan.LastExecutionStatus = nil
	plan.LastExecutionTime = nil

	created, err := h.svc.CreatePlan(r.Context(), &plan, req.ScriptIDs)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

// GetPlan 获取计划
// GET /api/plans/{planId}
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "planId")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	plan, err := h.svc.GetPlan(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, plan)
}

// CreateTask 创建任务
// POST /api/test-tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScriptID int64  `json:"scriptId"`
		PlanID   *int64 `json:"planId"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if req.ScriptID == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "scriptId is required")
		return
	}
	task, err := h.svc.CreateTask(r.Context(), req.ScriptID, req.PlanID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, task)
}

// GetTask 获取任务详情（含脚本）
// GET /api/test-tasks/{taskId}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "taskId")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	detail, err := h.svc.GetTaskDetail(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}
