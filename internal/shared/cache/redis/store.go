// Package redis 基于 Redis hash 的心跳镜像
//
// 每个节点一个 hash 键（status/host/port/updatedAt），整键设置过期时间，
// 节点停止心跳后键自然消失。
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"testexec-platform/internal/shared/cache"
)

// Mirror Redis 心跳镜像
type Mirror struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ cache.HeartbeatMirror = (*Mirror)(nil)

// Dial 解析 URL 并确认 Redis 可用，ttl 为 0 时使用 cache.DefaultTTL
func Dial(ctx context.Context, redisURL string, ttl time.Duration, log *zap.Logger) (*Mirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	if log != nil {
		log.Info("redis connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	}
	return NewMirror(rdb, ttl), nil
}

// NewMirror 使用已有客户端
func NewMirror(rdb *redis.Client, ttl time.Duration) *Mirror {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Mirror{rdb: rdb, ttl: ttl}
}

func key(nodeID string) string {
	return cache.KeyPrefix + nodeID
}

// Put 写入快照并刷新过期时间
func (m *Mirror) Put(ctx context.Context, hb *cache.NodeHeartbeat) error {
	at := hb.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	k := key(hb.NodeID)
	_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k,
			"status", hb.Status,
			"host", hb.Host,
			"port", hb.Port,
			"updatedAt", at.UTC().Format(time.RFC3339Nano))
		p.Expire(ctx, k, m.ttl)
		return nil
	})
	return err
}

// Get 读取快照
func (m *Mirror) Get(ctx context.Context, nodeID string) (*cache.NodeHeartbeat, error) {
	fields, err := m.rdb.HGetAll(ctx, key(nodeID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	hb := &cache.NodeHeartbeat{NodeID: nodeID, Status: fields["status"], Host: fields["host"]}
	hb.Port, _ = strconv.Atoi(fields["port"])
	hb.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updatedAt"])
	return hb, nil
}

// Remove 节点下线或被删除时清除
func (m *Mirror) Remove(ctx context.Context, nodeID string) error {
	return m.rdb.Del(ctx, key(nodeID)).Err()
}

// OnlineNodeIDs 用 SCAN 遍历心跳键
func (m *Mirror) OnlineNodeIDs(ctx context.Context) ([]string, error) {
	var ids []string
	it := m.rdb.Scan(ctx, 0, cache.KeyPrefix+"*", 200).Iterator()
	for it.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(it.Val(), cache.KeyPrefix))
	}
	return ids, it.Err()
}

// TTL 剩余过期时间
func (m *Mirror) TTL(ctx context.Context, nodeID string) (time.Duration, error) {
	return m.rdb.TTL(ctx, key(nodeID)).Result()
}

// Close 关闭连接
func (m *Mirror) Close() error {
	return m.rdb.Close()
}
