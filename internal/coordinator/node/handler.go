package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"testexec-platform/internal/shared/apperr"
	"testexec-platform/internal/shared/httputil"
	"testexec-platform/internal/shared/model"
)

// Handler 节点 HTTP 处理器
type Handler struct {
	svc *Service
}

// NewHandler 创建节点处理器
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册节点相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/execution-nodes/register", h.Register)
	mux.HandleFunc("POST /api/execution-nodes/{nodeId}/heartbeat", h.Heartbeat)
	mux.HandleFunc("PUT /api/execution-nodes/{nodeId}/status", h.UpdateStatus)
	mux.HandleFunc("DELETE /api/execution-nodes/{nodeId}", h.Remove)
	mux.HandleFunc("GET /api/execution-nodes", h.List)
	mux.HandleFunc("GET /api/execution-nodes/online", h.ListOnline)
	mux.HandleFunc("GET /api/execution-nodes/available", h.Available)
	mux.HandleFunc("GET /api/execution-nodes/{nodeId}", h.Get)
}

// Register 节点注册
// POST /api/execution-nodes/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.NodeRegistration
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	node, err := h.svc.Register(r.Context(), &req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, node)
}

// Heartbeat 节点心跳
// POST /api/execution-nodes/{nodeId}/heartbeat
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	node, err := h.svc.Heartbeat(r.Context(), r.PathValue("nodeId"))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, node)
}

// UpdateStatus 更新节点状态
// PUT /api/execution-nodes/{nodeId}/status
//
// 请求体可以是 {"status":"OFFLINE"}，也可以是纯文本 OFFLINE。
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	status, err := readStatusBody(r)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	node, err := h.svc.UpdateStatus(r.Context(), r.PathValue("nodeId"), status)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, node)
}

// Remove 删除节点
// DELETE /api/execution-nodes/{nodeId}
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Remove(r.Context(), r.PathValue("nodeId")); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Get 获取节点
// GET /api/execution-nodes/{nodeId}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	node, err := h.svc.Get(r.Context(), r.PathValue("nodeId"))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, node)
}

// List 列出全部节点
// GET /api/execution-nodes
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.svc.List(r.Context())
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonNil(nodes))
}

// ListOnline 列出在线节点
// GET /api/execution-nodes/online
func (h *Handler) ListOnline(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.svc.ListOnline(r.Context())
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonNil(nodes))
}

// Available 返回将被选中的节点，没有时返回 204
// GET /api/execution-nodes/available
func (h *Handler) Available(w http.ResponseWriter, r *http.Request) {
	node, err := h.svc.SelectAvailable(r.Context())
	if err != nil {
		if errors.Is(err, apperr.ErrNodeUnavailable) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, node)
}

func readStatusBody(r *http.Request) (model.NodeStatus, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1024))
	if err != nil {
		return "", fmt.Errorf("read body: %v: %w", err, apperr.ErrInvalidArgument)
	}
	body := strings.TrimSpace(string(raw))
	if strings.HasPrefix(body, "{") {
		var req struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return "", fmt.Errorf("invalid request body: %v: %w", err, apperr.ErrInvalidArgument)
		}
		body = req.Status
	}
	body = strings.Trim(body, `"`)
	if body == "" {
		body = r.URL.Query().Get("status")
	}
	return model.NodeStatus(strings.ToUpper(body)), nil
}

func nonNil(nodes []*model.ExecutionNode) []*model.ExecutionNode {
	if nodes == nil {
		return []*model.ExecutionNode{}
	}
	return nodes
}
