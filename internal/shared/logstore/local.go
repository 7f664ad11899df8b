package logstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"testexec-platform/internal/shared/apperr"
)

// LocalStore 本地文件系统日志存储
type LocalStore struct {
	root string
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore 创建本地日志存储，root 不存在时自动创建
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create log root %s: %w", root, err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) filePath(key Key) string {
	return filepath.Join(s.root, filepath.FromSlash(key.Path()))
}

// Save 先写临时文件再重命名，读者不会看到半截内容
func (s *LocalStore) Save(_ context.Context, key Key, content []byte) error {
	dst := s.filePath(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp log: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close log: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename log: %w", err)
	}
	return nil
}

// Open 打开日志文件
func (s *LocalStore) Open(_ context.Context, key Key) (io.ReadCloser, error) {
	f, err := os.Open(s.filePath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("log %s: %w", key.Path(), apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}
