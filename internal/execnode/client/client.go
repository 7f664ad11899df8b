// Package client 执行节点调用协调器 HTTP 接口的客户端
//
// 所有失败都包装 apperr.ErrReporting；协调器返回 404 时额外包装 apperr.ErrNotFound，
// 心跳据此判断节点需要重新注册。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"testexec-platform/internal/shared/apperr"
	"testexec-platform/internal/shared/logstore"
	"testexec-platform/internal/shared/model"
)

// maxErrorBody 错误响应体最多读取的字节数
const maxErrorBody = 4 << 10

// StatusError 协调器返回的非 2xx 响应
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Unwrap 支持 errors.Is(err, apperr.ErrReporting) 与 errors.Is(err, apperr.ErrNotFound)
func (e *StatusError) Unwrap() []error {
	if e.Code == http.StatusNotFound {
		return []error{apperr.ErrReporting, apperr.ErrNotFound}
	}
	return []error{apperr.ErrReporting}
}

// Client 协调器客户端
type Client struct {
	baseURL string
	http    *http.Client
}

// New 创建客户端，timeout 作用于单次请求
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL 协调器地址
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// 节点注册与心跳
// ============================================================================

// Register 注册节点
func (c *Client) Register(ctx context.Context, reg *model.NodeRegistration) (*model.ExecutionNode, error) {
	var node model.ExecutionNode
	if err := c.doJSON(ctx, http.MethodPost, "/api/execution-nodes/register", reg, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// Heartbeat 发送心跳
func (c *Client) Heartbeat(ctx context.Context, nodeID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/execution-nodes/"+url.PathEscape(nodeID)+"/heartbeat", nil, nil)
}

// UpdateStatus 上报节点状态
func (c *Client) UpdateStatus(ctx context.Context, nodeID string, status model.NodeStatus) error {
	body := map[string]model.NodeStatus{"status": status}
	return c.doJSON(ctx, http.MethodPut, "/api/execution-nodes/"+url.PathEscape(nodeID)+"/status", body, nil)
}

// ============================================================================
// 脚本读取
// ============================================================================

// GetTaskDetail 获取任务及其脚本
func (c *Client) GetTaskDetail(ctx context.Context, taskID int64) (*model.TaskDetail, error) {
	var detail model.TaskDetail
	if err := c.doJSON(ctx, http.MethodGet, "/api/test-tasks/"+itoa(taskID), nil, &detail); err != nil {
		return nil, err
	}
	if detail.Script == nil {
		return nil, fmt.Errorf("task %d has no script: %w", taskID, apperr.ErrNotFound)
	}
	return &detail, nil
}

// GetPlan 获取计划及其有序脚本
func (c *Client) GetPlan(ctx context.Context, planID int64) (*model.TestPlan, error) {
	var plan model.TestPlan
	if err := c.doJSON(ctx, http.MethodGet, "/api/plans/"+itoa(planID), nil, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// DownloadScript 下载以文件路径登记的脚本
func (c *Client) DownloadScript(ctx context.Context, filePath string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/scripts/download?filePath="+url.QueryEscape(filePath), "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %v: %w", filePath, err, apperr.ErrReporting)
	}
	return data, nil
}

// ============================================================================
// 结果回报
// ============================================================================

// CreateLog 开始执行脚本前创建日志
func (c *Client) CreateLog(ctx context.Context, executionID, scriptID int64) (*model.PlanExecutionLog, error) {
	var entry model.PlanExecutionLog
	if err := c.doJSON(ctx, http.MethodPost, "/api/plan-executions/logs", model.NewCreateLogRequest(executionID, scriptID), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpdateLogStatus 回报脚本终态
func (c *Client) UpdateLogStatus(ctx context.Context, logID int64, upd model.LogStatusUpdate) error {
	return c.doJSON(ctx, http.MethodPut, "/api/plan-executions/logs/"+itoa(logID)+"/status", upd, nil)
}

// UploadLog 以 multipart 上传完整日志
func (c *Client) UploadLog(ctx context.Context, key logstore.Key, logID int64, content []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"planId", itoa(key.PlanID)},
		{"executionId", itoa(key.ExecutionID)},
		{"scriptId", itoa(key.ScriptID)},
		{"logId", itoa(logID)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("build upload form: %v: %w", err, apperr.ErrReporting)
		}
	}
	fw, err := mw.CreateFormFile("logContent", itoa(key.ScriptID)+".log")
	if err != nil {
		return fmt.Errorf("build upload form: %v: %w", err, apperr.ErrReporting)
	}
	if _, err := fw.Write(content); err != nil {
		return fmt.Errorf("build upload form: %v: %w", err, apperr.ErrReporting)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("build upload form: %v: %w", err, apperr.ErrReporting)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/plan-executions/logs/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ReportTaskResult 回报单脚本任务结果
func (c *Client) ReportTaskResult(ctx context.Context, taskID int64, result model.ScriptResult) error {
	return c.doJSON(ctx, http.MethodPost, "/api/test-tasks/"+itoa(taskID)+"/result", result, nil)
}

// ============================================================================
// 请求封装
// ============================================================================

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %v: %w", path, err, apperr.ErrReporting)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	resp, err := c.do(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %v: %w", path, err, apperr.ErrReporting)
	}
	return nil
}

// do 发送请求，非 2xx 返回 *StatusError，调用方负责关闭响应体
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %v: %w", path, err, apperr.ErrReporting)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %v: %w", method, path, err, apperr.ErrReporting)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: errorMessage(data)}
	}
	return resp, nil
}

// errorMessage 提取 {"error": "..."} 中的错误信息
func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

// IsNotFound 协调器返回 404
func IsNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
