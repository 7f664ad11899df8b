// Package storage 定义存储层领域错误
//
// 这些错误用于隔离业务层与底层存储引擎的错误类型，
// repository 实现负责将 sql.ErrNoRows、受影响行数为 0 等情况转换为这些领域错误。
package storage

import (
	"errors"

	"testexec-platform/internal/shared/apperr"
)

var (
	// ErrNotFound 实体不存在
	ErrNotFound = apperr.ErrNotFound

	// ErrConflict 状态守卫失败（实体状态已被其他请求改变）
	ErrConflict = errors.New("conflict: entity state changed")

	// ErrDuplicate 唯一键冲突
	ErrDuplicate = errors.New("duplicate: entity already exists")
)
