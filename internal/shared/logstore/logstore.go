// Package logstore 脚本执行日志存储
//
// 日志按 <planId>/<executionId>/<scriptId>.log 组织，上传与下载内容逐字节一致。
// 提供本地文件系统和 MinIO 两种实现。
package logstore

import (
	"context"
	"fmt"
	"io"
	"path"
)

// Key 日志定位键
type Key struct {
	PlanID      int64
	ExecutionID int64
	ScriptID    int64
}

// Path 返回相对路径 <planId>/<executionId>/<scriptId>.log
func (k Key) Path() string {
	return path.Join(fmt.Sprint(k.PlanID), fmt.Sprint(k.ExecutionID), fmt.Sprintf("%d.log", k.ScriptID))
}

// Store 日志存储接口
type Store interface {
	// Save 写入（覆盖）日志内容
	Save(ctx context.Context, key Key, content []byte) error
	// Open 打开日志，不存在时返回 apperr.ErrNotFound
	Open(ctx context.Context, key Key) (io.ReadCloser, error)
}
