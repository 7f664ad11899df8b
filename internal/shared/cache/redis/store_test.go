package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testexec-platform/internal/shared/cache"
)

// dialTest 连接 TEST_REDIS_URL 指定的 Redis，未设置时跳过
func dialTest(t *testing.T) *Mirror {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	m, err := Dial(context.Background(), url, 2*time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestHeartbeatMirrorLifecycle(t *testing.T) {
	m := dialTest(t)
	ctx := context.Background()
	nodeID := "test-node-" + time.Now().Format("150405.000")
	at := time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)

	require.NoError(t, m.Put(ctx, &cache.NodeHeartbeat{NodeID: nodeID, Status: "ONLINE", Host: "10.0.0.7", Port: 8091, UpdatedAt: at}))

	got, err := m.Get(ctx, nodeID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ONLINE", got.Status)
	assert.Equal(t, 8091, got.Port)
	assert.True(t, at.Equal(got.UpdatedAt))

	ids, err := m.OnlineNodeIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, nodeID)

	ttl, err := m.TTL(ctx, nodeID)
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, 2*time.Second)

	require.NoError(t, m.Remove(ctx, nodeID))
	got, err = m.Get(ctx, nodeID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHeartbeatKeyExpires(t *testing.T) {
	m := dialTest(t)
	ctx := context.Background()
	nodeID := "expiring-" + time.Now().Format("150405.000")
	require.NoError(t, m.Put(ctx, &cache.NodeHeartbeat{NodeID: nodeID, Status: "ONLINE"}))

	assert.Eventually(t, func() bool {
		got, err := m.Get(ctx, nodeID)
		return err == nil && got == nil
	}, 5*time.Second, 100*time.Millisecond)
}

func TestNewMirrorDefaultsTTL(t *testing.T) {
	assert.Equal(t, cache.DefaultTTL, NewMirror(nil, 0).ttl)
}

func TestDialRejectsBadURL(t *testing.T) {
	_, err := Dial(context.Background(), "not-a-url", 0, nil)
	assert.Error(t, err)
}
