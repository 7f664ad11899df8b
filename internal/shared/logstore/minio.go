package logstore

import (
	"context"
	"fmt"
	"io"

	"testexec-platform/internal/shared/apperr"
	objstore "testexec-platform/internal/shared/minio"
)

// ObjectStore 基于 MinIO 的日志存储
type ObjectStore struct {
	client *objstore.Client
	prefix string
}

var _ Store = (*ObjectStore)(nil)

// NewObjectStore 创建对象存储日志后端，对象键为 <prefix>/<planId>/<executionId>/<scriptId>.log
func NewObjectStore(client *objstore.Client, prefix string) *ObjectStore {
	if prefix == "" {
		prefix = "logs"
	}
	return &ObjectStore{client: client, prefix: prefix}
}

func (s *ObjectStore) objectKey(key Key) string {
	return s.prefix + "/" + key.Path()
}

func (s *ObjectStore) Save(ctx context.Context, key Key, content []byte) error {
	return s.client.Put(ctx, s.objectKey(key), content, "text/plain; charset=utf-8")
}

func (s *ObjectStore) Open(ctx context.Context, key Key) (io.ReadCloser, error) {
	rc, err := s.client.Get(ctx, s.objectKey(key))
	if err != nil {
		if objstore.IsNotFound(err) {
			return nil, fmt.Errorf("log %s: %w", key.Path(), apperr.ErrNotFound)
		}
		return nil, err
	}
	return rc, nil
}
