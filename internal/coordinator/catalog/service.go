// Package catalog 测试脚本、测试计划与执行任务的录入和查询
//
// 节点执行前通过这里读取脚本内容：单脚本任务读取 TaskDetail，计划执行读取带有序脚本的计划。
// 以文件路径登记的脚本由节点通过 scripts/download 拉取，文件只允许位于脚本根目录之下。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"testexec-platform/internal/coordinator/monitor"
	"testexec-platform/internal/shared/apperr"
	"testexec-platform/internal/shared/model"
	"testexec-platform/internal/shared/storage"
)

// Store 目录服务所需的存储接口
type Store interface {
	storage.CatalogStore
	storage.TaskStore
}

// Service 目录服务
type Service struct {
	store      Store
	scriptRoot string
	pub        monitor.Publisher
	log        *zap.Logger
}

// NewService 创建目录服务
// scriptRoot 为空时禁用脚本文件下载
func NewService(store Store, scriptRoot string, pub monitor.Publisher, log *zap.Logger) *Service {
	if pub == nil {
		pub = monitor.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, scriptRoot: scriptRoot, pub: pub, log: log.Named("catalog")}
}

// CreateScript 登记脚本，内容与文件路径至少提供一个
func (s *Service) CreateScript(ctx context.Context, script *model.TestScript) error {
	script.Name = strings.TrimSpace(script.Name)
	if script.Name == "" {
		return fmt.Errorf("script name is required: %w", apperr.ErrInvalidArgument)
	}
	if script.ScriptType == "" {
		return fmt.Errorf("scriptType is required: %w", apperr.ErrInvalidArgument)
	}
	script.ScriptType = script.ScriptType.Normalize()
	if script.Content == "" && script.FilePath == "" {
		return fmt.Errorf("content or filePath is required: %w", apperr.ErrInvalidArgument)
	}
	if script.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must not be negative: %w", apperr.ErrInvalidArgument)
	}
	if err := s.store.CreateScript(ctx, script); err != nil {
		return fmt.Errorf("create script: %w", err)
	}
	s.log.Info("script created", zap.Int64("scriptId", script.ID), zap.String("type", string(script.ScriptType)))
	return nil
}

// GetScript 获取脚本
func (s *Service) GetScript(ctx context.Context, id int64) (*model.TestScript, error) {
	script, err := s.store.GetScript(ctx, id)
	if err != nil {
		return nil, err
	}
	if script == nil {
		return nil, fmt.Errorf("script %d: %w", id, apperr.ErrNotFound)
	}
	return script, nil
}

// CreatePlan 创建计划，scriptIDs 的顺序即执行顺序
func (s *Service) CreatePlan(ctx context.Context, plan *model.TestPlan, scriptIDs []int64) (*model.TestPlan, error) {
	plan.Name = strings.TrimSpace(plan.Name)
	if plan.Name == "" {
		return nil, fmt.Errorf("plan name is required: %w", apperr.ErrInvalidArgument)
	}
	if err := s.store.CreatePlan(ctx, plan, scriptIDs); err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	s.log.Info("plan created", zap.Int64("planId", plan.ID), zap.Int("scripts", len(scriptIDs)))
	return s.GetPlan(ctx, plan.ID)
}

// GetPlan 获取计划及其有序脚本
func (s *Service) GetPlan(ctx context.Context, id int64) (*model.TestPlan, error) {
	plan, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, fmt.Errorf("plan %d: %w", id, apperr.ErrNotFound)
	}
	return plan, nil
}

// CreateTask 为单个脚本创建 PENDING 任务
func (s *Service) CreateTask(ctx context.Context, scriptID int64, planID *int64) (*model.ExecutionTask, error) {
	if _, err := s.GetScript(ctx, scriptID); err != nil {
		return nil, err
	}
	if planID != nil {
		if _, err := s.GetPlan(ctx, *planID); err != nil {
			return nil, err
		}
	}
	task := &model.ExecutionTask{ScriptID: scriptID, PlanID: planID, Status: model.TaskStatusPending}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.pub.Publish(monitor.MsgTask, task)
	return task, nil
}

// GetTaskDetail 返回任务及节点执行所需的脚本
func (s *Service) GetTaskDetail(ctx context.Context, taskID int64) (*model.TaskDetail, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("task %d: %w", taskID, apperr.ErrNotFound)
	}
	detail := &model.TaskDetail{Task: task}
	if detail.Script, err = s.GetScript(ctx, task.ScriptID); err != nil {
		return nil, err
	}
	if task.PlanID != nil {
		// 计划可能已被删除，任务仍可独立执行
		plan, err := s.store.GetPlan(ctx, *task.PlanID)
		if err != nil {
			return nil, err
		}
		detail.Plan = plan
	}
	return detail, nil
}

// OpenScriptFile 打开脚本根目录下的文件
//
// 绝对路径、.. 与指向根目录之外的符号链接都会被拒绝。
func (s *Service) OpenScriptFile(filePath string) (*os.File, error) {
	if s.scriptRoot == "" {
		return nil, fmt.Errorf("script download disabled: %w", apperr.ErrNotFound)
	}
	name := filepath.ToSlash(strings.TrimSpace(filePath))
	if name == "" {
		return nil, fmt.Errorf("filePath is required: %w", apperr.ErrInvalidArgument)
	}
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return nil, fmt.Errorf("filePath %q escapes script root: %w", filePath, apperr.ErrInvalidArgument)
	}
	f, err := os.OpenInRoot(s.scriptRoot, filepath.FromSlash(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("script file %q: %w", filePath, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("open script file %q: %w", filePath, apperr.ErrInvalidArgument)
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("script file %q: %w", filePath, apperr.ErrNotFound)
	}
	return f, nil
}
