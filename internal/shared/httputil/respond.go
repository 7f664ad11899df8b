// Package httputil HTTP 处理器共用的响应与参数解析函数
package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"testexec-platform/internal/shared/apperr"
)

// WriteJSON 将数据以 JSON 格式写入 HTTP 响应
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError 将错误信息以 JSON 格式写入 HTTP 响应
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteAppError 按领域错误类别选择状态码
func WriteAppError(w http.ResponseWriter, err error) {
	WriteError(w, apperr.HTTPStatus(err), err.Error())
}

// DecodeJSON 解析请求体，失败时返回 ErrInvalidArgument
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, apperr.ErrInvalidArgument)
	}
	return nil
}

// PathInt64 读取整数路径参数
func PathInt64(r *http.Request, name string) (int64, error) {
	return parseInt64(name, r.PathValue(name))
}

// QueryInt64 读取整数查询参数
func QueryInt64(r *http.Request, name string) (int64, error) {
	return parseInt64(name, r.URL.Query().Get(name))
}

func parseInt64(name, raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%s is required: %w", name, apperr.ErrInvalidArgument)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, apperr.ErrInvalidArgument)
	}
	return v, nil
}
