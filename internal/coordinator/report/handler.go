package report

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"testexec-platform/internal/shared/apperr"
	"testexec-platform/internal/shared/httputil"
	"testexec-platform/internal/shared/logstore"
	"testexec-platform/internal/shared/model"
)

// maxLogUpload 单个日志上传上限
const maxLogUpload = 64 << 20

// Handler 回报 HTTP 处理器
type Handler struct {
	svc *Service
}

// NewHandler 创建回报处理器
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册回报相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/plan-executions/logs", h.CreateLog)
	mux.HandleFunc("PUT /api/plan-executions/logs/{logId}/status", h.UpdateLogStatus)
	mux.HandleFunc("POST /api/plan-executions/logs/upload", h.UploadLog)
	mux.HandleFunc("GET /api/plan-executions/logs/download", h.DownloadLog)
	mux.HandleFunc("GET /api/plan-executions/{executionId}", h.GetExecution)
	// /{executionId}/logs 与 /plan/{planId} 两个模式互相重叠，合并为一个路由再按子路径分派
	mux.HandleFunc("GET /api/plan-executions/{executionId}/{sub}", h.executionSubresource)
	mux.HandleFunc("GET /api/plan-executions/plan/{planId}", h.ListExecutions)

	mux.HandleFunc("POST /api/test-tasks/{taskId}/result", h.RecordTaskResult)
	mux.HandleFunc("GET /api/test-tasks/{taskId}/result", h.GetTaskResult)
}

// CreateLog 创建执行日志
// POST /api/plan-executions/logs
func (h *Handler) CreateLog(w http.ResponseWriter, r *http.Request) {
	var req model.CreateLogRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	executionID, scriptID := req.IDs()
	if executionID == 0 || scriptID == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "execution.id and testScript.id are required")
		return
	}
	if req.Status != "" && req.Status != model.ExecutionStatusExecuting {
		httputil.WriteError(w, http.StatusBadRequest, "status must be EXECUTING")
		return
	}
	entry, err := h.svc.CreateLog(r.Context(), executionID, scriptID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

// UpdateLogStatus 更新执行日志状态
// PUT /api/plan-executions/logs/{logId}/status
func (h *Handler) UpdateLogStatus(w http.ResponseWriter, r *http.Request) {
	logID, err := httputil.PathInt64(r, "logId")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	var req model.LogStatusUpdate
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	entry, _, err := h.svc.UpdateLogStatus(r.Context(), logID, req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

// UploadLog 接收节点上传的完整日志
// POST /api/plan-executions/logs/upload (multipart/form-data)
//
// 表单字段：planId, executionId, scriptId, logId, logContent（文本字段或文件）
func (h *Handler) UploadLog(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLogUpload)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	key, err := parseKey(r.FormValue)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	var logID int64
	if v := r.FormValue("logId"); v != "" {
		if logID, err = strconv.ParseInt(v, 10, 64); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid logId")
			return
		}
	}
	content, err := readLogContent(r.MultipartForm)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.svc.UploadLog(r.Context(), key, logID, content); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Log content uploaded successfully"})
}

// DownloadLog 下载执行日志
// GET /api/plan-executions/logs/download?planId=&executionId=&scriptId=
func (h *Handler) DownloadLog(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(r.URL.Query().Get)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	rc, err := h.svc.DownloadLog(r.Context(), key)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%d.log", key.ScriptID))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
}

// GetExecution 获取执行
// GET /api/plan-executions/{executionId}
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "executionId")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	exec, err := h.svc.GetExecution(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exec)
}

func (h *Handler) executionSubresource(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("sub") != "logs" {
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	h.ListLogs(w, r)
}

// ListLogs 列出执行日志
// GET /api/plan-executions/{executionId}/logs
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathInt64(r, "executionId")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	logs, err := h.svc.ListLogs(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if logs == nil {
		logs = []*model.PlanExecutionLog{}
	}
	httputil.WriteJSON(w, http.StatusOK, logs)
}

// ListExecutions 按计划列出执行
// GET /api/plan-executions/plan/{planId}
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	planID, err := httputil.PathInt64(r, "planId")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	execs, err := h.svc.ListExecutions(r.Context(), planID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if execs == nil {
		execs = []*model.PlanExecution{}
	}
	httputil.WriteJSON(w, http.StatusOK, execs)
}

// RecordTaskResult 节点回报任务结果
// POST /api/test-tasks/{taskId}/result
func (h *Handler) RecordTaskResult(w http.ResponseWriter, r *http.Request) {
	taskID, err := httputil.PathInt64(r, "taskId")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	var result model.ScriptResult
	if err := httputil.DecodeJSON(r, &result); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	task, err := h.svc.RecordTaskResult(r.Context(), taskID, result)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, task)
}

// GetTaskResult 获取任务结果
// GET /api/test-tasks/{taskId}/result
func (h *Handler) GetTaskResult(w http.ResponseWriter, r *http.Request) {
	taskID, err := httputil.PathInt64(r, "taskId")
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	result, err := h.svc.GetTaskResult(r.Context(), taskID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// parseKey 从表单或查询参数读取日志定位键
func parseKey(get func(string) string) (logstore.Key, error) {
	var (
		key logstore.Key
		err error
	)
	fields := []struct {
		name string
		dst  *int64
	}{
		{"planId", &key.PlanID},
		{"executionId", &key.ExecutionID},
		{"scriptId", &key.ScriptID},
	}
	for _, f := range fields {
		raw := get(f.name)
		if raw == "" {
			return key, fmt.Errorf("%s is required: %w", f.name, apperr.ErrInvalidArgument)
		}
		if *f.dst, err = strconv.ParseInt(raw, 10, 64); err != nil || *f.dst < 0 {
			return key, fmt.Errorf("invalid %s %q: %w", f.name, raw, apperr.ErrInvalidArgument)
		}
	}
	return key, nil
}

// readLogContent logContent 可以是普通字段，也可以是文件
func readLogContent(form *multipart.Form) ([]byte, error) {
	if files := form.File["logContent"]; len(files) > 0 {
		f, err := files[0].Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	if values, ok := form.Value["logContent"]; ok && len(values) > 0 {
		return []byte(values[0]), nil
	}
	return nil, fmt.Errorf("logContent is required: %w", apperr.ErrInvalidArgument)
}
