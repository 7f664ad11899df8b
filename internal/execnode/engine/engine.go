package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"testexec-platform/internal/shared/apperr"
	"testexec-platform/internal/shared/model"
)

// killGrace 终止子进程后等待输出管道关闭的上限
const killGrace = 2 * time.Second

// Config 引擎配置
type Config struct {
	// TempDir 暂存根目录
	TempDir string
	// ScriptsDir 子进程工作目录，不存在时继承当前目录
	ScriptsDir string
	// DefaultTimeout 脚本未指定超时时使用，0 表示不限时
	DefaultTimeout time.Duration
	// GOOS 为空时取 runtime.GOOS
	GOOS string
}

// Engine 脚本执行引擎，可并发使用
type Engine struct {
	cfg   Config
	fetch Fetcher
	log   *zap.Logger
	now   func() time.Time
}

// New 创建引擎
func New(cfg Config, fetch Fetcher, log *zap.Logger) *Engine {
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, fetch: fetch, log: log.Named("engine"), now: time.Now}
}

// Run 执行脚本并返回结果
//
// 暂存、启动、超时与非零退出都归类为结果状态，引擎不删除暂存文件。
func (e *Engine) Run(ctx context.Context, job Job) model.ScriptResult {
	start := e.now()
	log := e.log.With(zap.Int64("scriptId", job.ScriptID), zap.String("type", string(job.ScriptType)))

	fail := func(err error) model.ScriptResult {
		log.Warn("script failed before start", zap.Error(err))
		return model.ScriptResult{
			Status:     model.RunStatusFailure,
			Error:      err.Error(),
			DurationMs: e.now().Sub(start).Milliseconds(),
		}
	}

	path, err := e.stage(ctx, job)
	if err != nil {
		return fail(err)
	}
	argv, err := BuildCommand(e.cfg.GOOS, job.ScriptType, job.EndpointType, path)
	if err != nil {
		return fail(err)
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Dir = e.workDir()
	cmd.Env = os.Environ()
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = killGrace

	log.Debug("starting script", zap.Strings("argv", argv), zap.String("dir", cmd.Dir))
	if err := cmd.Start(); err != nil {
		return fail(fmt.Errorf("%s: %v: %w", argv[0], err, apperr.ErrSpawn))
	}
	waitErr := cmd.Wait()

	result := model.ScriptResult{
		Output:     stdout.String(),
		Error:      stderr.String(),
		DurationMs: e.now().Sub(start).Milliseconds(),
	}
	switch {
	case waitErr != nil && timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.Status = model.RunStatusTimeout
		result.Error = appendLine(result.Error, fmt.Sprintf("%v after %s", apperr.ErrProcessTimeout, timeout))
	case waitErr != nil:
		result.Status = model.RunStatusFailure
		if ctx.Err() != nil {
			result.Error = appendLine(result.Error, "cancelled: "+ctx.Err().Error())
		} else if code := exitCode(waitErr); code > 0 {
			if result.Error == "" {
				result.Error = fmt.Sprintf("%v: %d", apperr.ErrNonZeroExit, code)
			}
		} else {
			result.Error = appendLine(result.Error, waitErr.Error())
		}
	default:
		result.Status = model.RunStatusSuccess
	}

	log.Info("script finished",
		zap.String("status", string(result.Status)),
		zap.Int64("durationMs", result.DurationMs))
	return result
}

func (e *Engine) workDir() string {
	if e.cfg.ScriptsDir == "" {
		return ""
	}
	if info, err := os.Stat(e.cfg.ScriptsDir); err == nil && info.IsDir() {
		return e.cfg.ScriptsDir
	}
	return ""
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func appendLine(s, line string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s + line
	}
	return s + "\n" + line
}
