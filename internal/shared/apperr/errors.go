// Package apperr 定义跨组件共享的领域错误
//
// 调用方通过 errors.Is 判断错误类别，具体上下文以 fmt.Errorf("%w") 包装。
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrNodeUnavailable 没有可用节点，或指定节点不在线
	ErrNodeUnavailable = errors.New("no available execution nodes")

	// ErrNotFound 引用的节点、计划、脚本、执行或任务不存在
	ErrNotFound = errors.New("not found")

	// ErrInvalidState 实体当前状态不允许该操作
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidArgument 请求参数非法
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStaging 脚本暂存失败（目录创建、写文件、下载）
	ErrStaging = errors.New("script staging failed")

	// ErrSpawn 子进程启动失败
	ErrSpawn = errors.New("process spawn failed")

	// ErrUnsupportedScriptType 不支持的脚本类型
	ErrUnsupportedScriptType = errors.New("unsupported script type")

	// ErrProcessTimeout 子进程超时被终止
	ErrProcessTimeout = errors.New("process timeout")

	// ErrNonZeroExit 子进程非零退出
	ErrNonZeroExit = errors.New("process exited with non-zero code")

	// ErrReporting 向协调器回报结果或日志失败
	ErrReporting = errors.New("reporting failed")

	// ErrQueueFull 工作池队列已满
	ErrQueueFull = errors.New("worker queue full")
)

// HTTPStatus 将领域错误映射为 HTTP 状态码
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrNodeUnavailable):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrQueueFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
