package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"testexec-platform/internal/shared/apperr"
)

// Fetcher 从协调器下载以文件路径登记的脚本
type Fetcher interface {
	DownloadScript(ctx context.Context, filePath string) ([]byte, error)
}

// stagePath 返回 <tempRoot>/YYYYMMDD[/<planId>[/exec_<executionId>]][/task_<taskId>]/test_<scriptId><ext>
//
// 同一计划的多次执行可能在节点上并发，按执行 ID 分目录。
func stagePath(tempRoot string, now time.Time, job Job) string {
	dir := filepath.Join(tempRoot, now.Format("20060102"))
	if job.PlanID != 0 {
		dir = filepath.Join(dir, strconv.FormatInt(job.PlanID, 10))
		if job.ExecutionID != 0 {
			dir = filepath.Join(dir, "exec_"+strconv.FormatInt(job.ExecutionID, 10))
		}
	}
	if job.TaskID != 0 {
		dir = filepath.Join(dir, "task_"+strconv.FormatInt(job.TaskID, 10))
	}
	return filepath.Join(dir, fmt.Sprintf("test_%d%s", job.ScriptID, job.ScriptType.Extension()))
}

// stage 把脚本写入暂存目录并返回文件路径
//
// 有内容时直接写入，否则从协调器下载 FilePath。
func (e *Engine) stage(ctx context.Context, job Job) (string, error) {
	path := stagePath(e.cfg.TempDir, e.now(), job)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create stage dir: %v: %w", err, apperr.ErrStaging)
	}

	content := []byte(job.Content)
	if job.Content == "" {
		if job.FilePath == "" {
			return "", fmt.Errorf("script %d has neither content nor filePath: %w", job.ScriptID, apperr.ErrStaging)
		}
		if e.fetch == nil {
			return "", fmt.Errorf("no fetcher for %s: %w", job.FilePath, apperr.ErrStaging)
		}
		data, err := e.fetch.DownloadScript(ctx, job.FilePath)
		if err != nil {
			return "", fmt.Errorf("download %s: %v: %w", job.FilePath, err, apperr.ErrStaging)
		}
		content = data
	}

	if err := os.WriteFile(path, content, 0o755); err != nil {
		return "", fmt.Errorf("write %s: %v: %w", path, err, apperr.ErrStaging)
	}
	return path, nil
}
