package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"testexec-platform/internal/shared/model"
)

// NodeClient 调用执行节点的 HTTP 接口
type NodeClient interface {
	ExecuteTask(ctx context.Context, node *model.ExecutionNode, taskID int64) error
	ExecutePlan(ctx context.Context, node *model.ExecutionNode, req model.PlanDispatchRequest) error
}

// HTTPNodeClient NodeClient 的 HTTP 实现
type HTTPNodeClient struct {
	client *http.Client
}

var _ NodeClient = (*HTTPNodeClient)(nil)

// NewHTTPNodeClient 创建节点客户端
func NewHTTPNodeClient(timeout time.Duration) *HTTPNodeClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPNodeClient{client: &http.Client{Timeout: timeout}}
}

// ExecuteTask POST {node}/api/execution/execute-task?taskId=
func (c *HTTPNodeClient) ExecuteTask(ctx context.Context, node *model.ExecutionNode, taskID int64) error {
	u := node.BaseURL() + "/api/execution/execute-task?" +
		url.Values{"taskId": {strconv.FormatInt(taskID, 10)}}.Encode()
	return c.post(ctx, node, u, nil)
}

// ExecutePlan POST {node}/api/execution/execute-plan
func (c *HTTPNodeClient) ExecutePlan(ctx context.Context, node *model.ExecutionNode, req model.PlanDispatchRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.post(ctx, node, node.BaseURL()+"/api/execution/execute-plan", body)
}

func (c *HTTPNodeClient) post(ctx context.Context, node *model.ExecutionNode, u string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call node %s: %w", node.NodeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("node %s returned %d: %s", node.NodeID, resp.StatusCode, bytes.TrimSpace(msg))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
