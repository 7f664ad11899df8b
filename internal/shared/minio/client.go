// Package objstore MinIO 对象存储，用于保存脚本执行日志
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// DefaultBucket 未配置 bucket 时使用
const DefaultBucket = "testexec-logs"

// Config 连接配置，密钥只从环境变量读取
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Client 绑定单个 bucket 的客户端
type Client struct {
	mc     *minio.Client
	bucket string
	log    *zap.Logger
}

// NewClient 校验配置并创建客户端，不会发起网络请求
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	switch {
	case cfg.Endpoint == "":
		return nil, errors.New("minio: endpoint is required")
	case cfg.AccessKey == "" || cfg.SecretKey == "":
		return nil, errors.New("minio: MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio %s: %w", cfg.Endpoint, err)
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{mc: mc, bucket: cfg.Bucket, log: log.Named("minio")}, nil
}

func (c *Client) Bucket() string { return c.bucket }

// EnsureBucket 启动时调用，bucket 不存在则创建
func (c *Client) EnsureBucket(ctx context.Context) error {
	ok, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("minio bucket %s: %w", c.bucket, err)
	}
	if ok {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("minio make bucket %s: %w", c.bucket, err)
	}
	c.log.Info("bucket created", zap.String("bucket", c.bucket))
	return nil
}

// Put 整体写入对象，同名对象被覆盖
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := c.mc.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("minio put %s: %w", key, err)
	}
	return nil
}

// Get 打开对象，对象不存在时返回的错误满足 IsNotFound
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio get %s: %w", key, err)
	}
	// GetObject 是惰性的，Stat 才会真正请求
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("minio get %s: %w", key, err)
	}
	return obj, nil
}

// IsNotFound 对象或 bucket 不存在
func IsNotFound(err error) bool {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return false
	}
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
